// Package badger implements metastore.Store on BadgerDB.
//
// This is the persistent control-plane store for production deployments.
// Records are JSON-encoded under namespaced keys (see keys.go). All
// operations run inside Badger transactions; range scans back the List
// operations and the per-mount invalidation of the dir-modified table.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/quarryfs/quarry/pkg/metastore"
)

// Store implements metastore.Store using BadgerDB for persistence.
//
// Thread Safety:
// BadgerDB uses internal MVCC; the store performs no additional locking.
// Read transactions never block read transactions, and write transactions
// serialise at commit.
type Store struct {
	db *badger.DB
}

// Config contains BadgerDB-specific options.
type Config struct {
	// Path is the database directory. Required.
	Path string `mapstructure:"path"`

	// SyncWrites forces fsync on every write transaction. Slower but
	// survives power loss without losing acknowledged writes.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// New opens (or creates) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("badger metastore: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithCompression(options.None) // control-plane records are tiny
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %q: %w", cfg.Path, err)
	}

	return &Store{db: db}, nil
}

// Close releases the database. Safe to call once.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Generic record helpers
// ============================================================================

func (s *Store) putJSON(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
}

func (s *Store) getJSON(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return metastore.ErrNotFound
	}
	return err
}

func (s *Store) delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// scanJSON decodes every value under prefix into fresh T records.
func scanJSON[T any](s *Store, ctx context.Context, prefix []byte) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*T
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec T
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to decode record %q: %w", it.Item().Key(), err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

// ============================================================================
// API keys
// ============================================================================

func (s *Store) PutAPIKey(ctx context.Context, key *metastore.APIKey) error {
	return s.putJSON(ctx, keyAPIKey(key.Key), key)
}

func (s *Store) GetAPIKey(ctx context.Context, key string) (*metastore.APIKey, error) {
	var rec metastore.APIKey
	if err := s.getJSON(ctx, keyAPIKey(key), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, key string) error {
	return s.delete(ctx, keyAPIKey(key))
}

func (s *Store) TouchAPIKey(ctx context.Context, key string, at time.Time) error {
	rec, err := s.GetAPIKey(ctx, key)
	if err != nil {
		return err
	}
	rec.LastUsedAt = at
	return s.PutAPIKey(ctx, rec)
}

// ============================================================================
// Storage configs
// ============================================================================

func (s *Store) PutStorageConfig(ctx context.Context, cfg *metastore.StorageConfig) error {
	return s.putJSON(ctx, keyStorageConfig(cfg.ID), cfg)
}

func (s *Store) GetStorageConfig(ctx context.Context, id string) (*metastore.StorageConfig, error) {
	var rec metastore.StorageConfig
	if err := s.getJSON(ctx, keyStorageConfig(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListStorageConfigs(ctx context.Context) ([]*metastore.StorageConfig, error) {
	return scanJSON[metastore.StorageConfig](s, ctx, prefixStorageConfig)
}

func (s *Store) DeleteStorageConfig(ctx context.Context, id string) error {
	return s.delete(ctx, keyStorageConfig(id))
}

// ============================================================================
// Mounts
// ============================================================================

func (s *Store) PutMount(ctx context.Context, m *metastore.Mount) error {
	return s.putJSON(ctx, keyMount(m.ID), m)
}

func (s *Store) GetMount(ctx context.Context, id string) (*metastore.Mount, error) {
	var rec metastore.Mount
	if err := s.getJSON(ctx, keyMount(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListMounts(ctx context.Context) ([]*metastore.Mount, error) {
	return scanJSON[metastore.Mount](s, ctx, prefixMount)
}

func (s *Store) DeleteMount(ctx context.Context, id string) error {
	if err := s.delete(ctx, keyMount(id)); err != nil {
		return err
	}
	// Removing a mount drops its dir-modified namespace too.
	return s.ClearDirModified(ctx, id)
}

func (s *Store) TouchMount(ctx context.Context, id string, at time.Time) error {
	rec, err := s.GetMount(ctx, id)
	if err != nil {
		return err
	}
	rec.LastUsedAt = at
	return s.PutMount(ctx, rec)
}

// ============================================================================
// Shared files
// ============================================================================

func (s *Store) PutSharedFile(ctx context.Context, f *metastore.SharedFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode shared file: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keySharedFile(f.ID), raw); err != nil {
			return err
		}
		if f.Slug != "" {
			return txn.Set(keySlug(f.Slug), []byte(f.ID))
		}
		return nil
	})
}

func (s *Store) GetSharedFile(ctx context.Context, id string) (*metastore.SharedFile, error) {
	var rec metastore.SharedFile
	if err := s.getJSON(ctx, keySharedFile(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetSharedFileBySlug(ctx context.Context, slug string) (*metastore.SharedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySlug(slug))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metastore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetSharedFile(ctx, id)
}

func (s *Store) DeleteSharedFile(ctx context.Context, id string) error {
	rec, err := s.GetSharedFile(ctx, id)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if rec.Slug != "" {
			if err := txn.Delete(keySlug(rec.Slug)); err != nil {
				return err
			}
		}
		return txn.Delete(keySharedFile(id))
	})
}

// ============================================================================
// Settings
// ============================================================================

func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySetting(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", metastore.ErrNotFound
	}
	return value, err
}

func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySetting(name), []byte(value))
	})
}

// ============================================================================
// Parent-modified table
// ============================================================================

func (s *Store) SetDirModified(ctx context.Context, mountID, dir string, at time.Time) error {
	return s.putJSON(ctx, keyDirModified(mountID, dir), at.UnixNano())
}

func (s *Store) GetDirModified(ctx context.Context, mountID, dir string) (time.Time, bool, error) {
	var nanos int64
	err := s.getJSON(ctx, keyDirModified(mountID, dir), &nanos)
	if errors.Is(err, metastore.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos), true, nil
}

func (s *Store) ClearDirModified(ctx context.Context, mountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := prefixDirModified(mountID)
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
