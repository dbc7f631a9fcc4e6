// Package memory implements metastore.Store in process memory.
//
// It backs tests and ephemeral single-node deployments where control-plane
// state does not need to survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quarryfs/quarry/pkg/metastore"
)

// Store is an in-memory metastore.Store. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	apiKeys     map[string]metastore.APIKey
	configs     map[string]metastore.StorageConfig
	mounts      map[string]metastore.Mount
	shared      map[string]metastore.SharedFile
	slugs       map[string]string
	settings    map[string]string
	dirModified map[string]time.Time // key: mountID + ":" + dir
}

// New creates an empty store.
func New() *Store {
	return &Store{
		apiKeys:     make(map[string]metastore.APIKey),
		configs:     make(map[string]metastore.StorageConfig),
		mounts:      make(map[string]metastore.Mount),
		shared:      make(map[string]metastore.SharedFile),
		slugs:       make(map[string]string),
		settings:    make(map[string]string),
		dirModified: make(map[string]time.Time),
	}
}

func (s *Store) Close() error { return nil }

func dmKey(mountID, dir string) string { return mountID + ":" + dir }

func (s *Store) PutAPIKey(_ context.Context, key *metastore.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key.Key] = *key
	return nil
}

func (s *Store) GetAPIKey(_ context.Context, key string) (*metastore.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.apiKeys[key]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *Store) DeleteAPIKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apiKeys, key)
	return nil
}

func (s *Store) TouchAPIKey(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.apiKeys[key]
	if !ok {
		return metastore.ErrNotFound
	}
	rec.LastUsedAt = at
	s.apiKeys[key] = rec
	return nil
}

func (s *Store) PutStorageConfig(_ context.Context, cfg *metastore.StorageConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = *cfg
	return nil
}

func (s *Store) GetStorageConfig(_ context.Context, id string) (*metastore.StorageConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.configs[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *Store) ListStorageConfigs(_ context.Context) ([]*metastore.StorageConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*metastore.StorageConfig, 0, len(s.configs))
	for _, rec := range s.configs {
		c := rec
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) DeleteStorageConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, id)
	return nil
}

func (s *Store) PutMount(_ context.Context, m *metastore.Mount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts[m.ID] = *m
	return nil
}

func (s *Store) GetMount(_ context.Context, id string) (*metastore.Mount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.mounts[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *Store) ListMounts(_ context.Context) ([]*metastore.Mount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*metastore.Mount, 0, len(s.mounts))
	for _, rec := range s.mounts {
		m := rec
		out = append(out, &m)
	}
	return out, nil
}

func (s *Store) DeleteMount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mounts, id)
	for k := range s.dirModified {
		if len(k) > len(id) && k[:len(id)] == id && k[len(id)] == ':' {
			delete(s.dirModified, k)
		}
	}
	return nil
}

func (s *Store) TouchMount(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.mounts[id]
	if !ok {
		return metastore.ErrNotFound
	}
	rec.LastUsedAt = at
	s.mounts[id] = rec
	return nil
}

func (s *Store) PutSharedFile(_ context.Context, f *metastore.SharedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared[f.ID] = *f
	if f.Slug != "" {
		s.slugs[f.Slug] = f.ID
	}
	return nil
}

func (s *Store) GetSharedFile(_ context.Context, id string) (*metastore.SharedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.shared[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *Store) GetSharedFileBySlug(ctx context.Context, slug string) (*metastore.SharedFile, error) {
	s.mu.RLock()
	id, ok := s.slugs[slug]
	s.mu.RUnlock()
	if !ok {
		return nil, metastore.ErrNotFound
	}
	return s.GetSharedFile(ctx, id)
}

func (s *Store) DeleteSharedFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.shared[id]; ok && rec.Slug != "" {
		delete(s.slugs, rec.Slug)
	}
	delete(s.shared, id)
	return nil
}

func (s *Store) GetSetting(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.settings[name]
	if !ok {
		return "", metastore.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetSetting(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = value
	return nil
}

func (s *Store) SetDirModified(_ context.Context, mountID, dir string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirModified[dmKey(mountID, dir)] = at
	return nil
}

func (s *Store) GetDirModified(_ context.Context, mountID, dir string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.dirModified[dmKey(mountID, dir)]
	return at, ok, nil
}

func (s *Store) ClearDirModified(_ context.Context, mountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := mountID + ":"
	for k := range s.dirModified {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.dirModified, k)
		}
	}
	return nil
}
