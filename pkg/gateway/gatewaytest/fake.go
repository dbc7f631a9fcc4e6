// Package gatewaytest provides in-memory fakes for the gateway's object
// plane, shared by gateway, webdav, and api tests.
package gatewaytest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/s3driver"
)

// fakeObject is one stored object in the fake bucket.
type fakeObject struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

// fakeMultipart is one open multipart session.
type fakeMultipart struct {
	key         string
	contentType string
	parts       map[int32][]byte
	etags       map[int32]string
}

// FakeStore is an in-memory ObjectStore that mirrors the S3 behaviours
// the gateway depends on: delimiter listings, directory markers, and
// multipart assembly with composite etags.
type FakeStore struct {
	mu       sync.Mutex
	objects  map[string]*fakeObject
	uploads  map[string]*fakeMultipart
	nextID   int
	caps     map[s3driver.Capability]bool
	FailPart bool // force part uploads to fail
	PutCalls int
	Aborted  []string
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		objects: make(map[string]*fakeObject),
		uploads: make(map[string]*fakeMultipart),
		caps: map[s3driver.Capability]bool{
			s3driver.CapRead: true, s3driver.CapWrite: true, s3driver.CapList: true,
			s3driver.CapPresign: true, s3driver.CapMultipart: true,
			s3driver.CapCopy: true, s3driver.CapProxy: true,
		},
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (f *FakeStore) Has(c s3driver.Capability) bool { return f.caps[c] }

func (f *FakeStore) Key(rel string) string { return rel }

func (f *FakeStore) StripRootPrefix(key string) string { return key }

func (f *FakeStore) SignedTTL() time.Duration { return 15 * time.Minute }

func (f *FakeStore) Get(_ context.Context, key, rangeHeader string) (*s3driver.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, s3driver.ErrNotFound)
	}

	data := obj.data
	contentRange := ""
	if rangeHeader != "" {
		var from, to int64
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &from, &to); err == nil {
			if to >= int64(len(data)) {
				to = int64(len(data)) - 1
			}
			contentRange = fmt.Sprintf("bytes %d-%d/%d", from, to, len(data))
			data = data[from : to+1]
		}
	}

	return &s3driver.Object{
		Info: s3driver.ObjectInfo{
			Key: key, Size: int64(len(data)), Modified: obj.modified,
			ETag: obj.etag, ContentType: obj.contentType,
		},
		Body:         io.NopCloser(bytes.NewReader(data)),
		ContentRange: contentRange,
	}, nil
}

func (f *FakeStore) Head(_ context.Context, key string) (*s3driver.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, s3driver.ErrNotFound)
	}
	return &s3driver.ObjectInfo{
		Key: key, Size: int64(len(obj.data)), Modified: obj.modified,
		ETag: obj.etag, ContentType: obj.contentType,
	}, nil
}

func (f *FakeStore) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) (*s3driver.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	obj := &fakeObject{data: data, contentType: contentType, etag: etagOf(data), modified: time.Now()}
	f.objects[key] = obj
	return &s3driver.ObjectInfo{Key: key, Size: int64(len(data)), ETag: obj.etag, ContentType: contentType, Modified: obj.modified}, nil
}

func (f *FakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *FakeStore) DeleteBatch(_ context.Context, keys []string) (map[string]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.objects, k)
	}
	return map[string]error{}, nil
}

func (f *FakeStore) Copy(_ context.Context, srcKey, dstKey string) (*s3driver.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.objects[srcKey]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", srcKey, s3driver.ErrNotFound)
	}
	cp := &fakeObject{
		data:        append([]byte(nil), src.data...),
		contentType: src.contentType,
		etag:        src.etag,
		modified:    time.Now(),
	}
	f.objects[dstKey] = cp
	return &s3driver.ObjectInfo{Key: dstKey, ETag: cp.etag, Size: int64(len(cp.data))}, nil
}

func (f *FakeStore) ListDir(_ context.Context, prefix string) (*s3driver.DirListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	listing := &s3driver.DirListing{}
	seenPrefixes := map[string]bool{}

	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) || strings.HasPrefix(k, s3driver.RootMarker) {
			continue
		}
		rest := k[len(prefix):]
		if rest == "" {
			continue // the directory's own marker
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			cp := prefix + rest[:idx+1]
			if !seenPrefixes[cp] {
				seenPrefixes[cp] = true
				listing.Prefixes = append(listing.Prefixes, cp)
			}
			continue
		}
		obj := f.objects[k]
		listing.Objects = append(listing.Objects, s3driver.ObjectInfo{
			Key: k, Size: int64(len(obj.data)), Modified: obj.modified,
			ETag: obj.etag, ContentType: obj.contentType,
		})
	}
	return listing, nil
}

func (f *FakeStore) Walk(_ context.Context, prefix string, maxKeys int, fn func(s3driver.ObjectInfo) error) error {
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && !strings.HasPrefix(k, s3driver.RootMarker) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	infos := make([]s3driver.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		obj := f.objects[k]
		infos = append(infos, s3driver.ObjectInfo{
			Key: k, Size: int64(len(obj.data)), Modified: obj.modified,
			ETag: obj.etag, ContentType: obj.contentType,
		})
	}
	f.mu.Unlock()

	for i, info := range infos {
		if maxKeys > 0 && i >= maxKeys {
			return nil
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeStore) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := f.Walk(ctx, "", 0, func(info s3driver.ObjectInfo) error {
		total += info.Size
		return nil
	})
	return total, err
}

func (f *FakeStore) CreateMultipart(_ context.Context, key, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeMultipart{
		key: key, contentType: contentType,
		parts: make(map[int32][]byte), etags: make(map[int32]string),
	}
	return id, nil
}

func (f *FakeStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPart {
		return "", fmt.Errorf("injected part failure")
	}
	up, ok := f.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("no such upload %s", uploadID)
	}
	cp := append([]byte(nil), data...)
	up.parts[partNumber] = cp
	etag := etagOf(cp)
	up.etags[partNumber] = etag
	return etag, nil
}

func (f *FakeStore) CompleteMultipart(_ context.Context, key, uploadID string, parts []s3driver.CompletedPart) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("no such upload %s", uploadID)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no parts")
	}

	sorted := make([]s3driver.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var body []byte
	for _, p := range sorted {
		data, ok := up.parts[p.PartNumber]
		if !ok {
			return "", fmt.Errorf("part %d missing", p.PartNumber)
		}
		body = append(body, data...)
	}

	etag := fmt.Sprintf(`"%s-%d"`, hex.EncodeToString([]byte{byte(len(sorted))}), len(sorted))
	f.objects[up.key] = &fakeObject{
		data: body, contentType: up.contentType, etag: etag, modified: time.Now(),
	}
	delete(f.uploads, uploadID)
	return etag, nil
}

func (f *FakeStore) AbortMultipart(_ context.Context, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, uploadID)
	f.Aborted = append(f.Aborted, uploadID)
	return nil
}

func (f *FakeStore) PresignGet(_ context.Context, key string, opts s3driver.PresignGetOptions) (string, error) {
	inline := "attachment"
	if opts.Inline {
		inline = "inline"
	}
	return "https://signed.example.com/" + key + "?disposition=" + inline, nil
}

func (f *FakeStore) PresignPut(_ context.Context, key, contentType string, _ time.Duration) (string, error) {
	return "https://signed.example.com/put/" + key, nil
}

func (f *FakeStore) OpenUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *FakeStore) ObjectData(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, false
	}
	return obj.data, true
}

// FixedSource returns the same fake store for every storage config.
type FixedSource struct{ Store gateway.ObjectStore }

func (s FixedSource) DriverFor(context.Context, *metastore.StorageConfig) (gateway.ObjectStore, error) {
	return s.Store, nil
}

// MultiSource maps storage config IDs to distinct fakes.
type MultiSource struct{ Stores map[string]gateway.ObjectStore }

func (s MultiSource) DriverFor(_ context.Context, cfg *metastore.StorageConfig) (gateway.ObjectStore, error) {
	st, ok := s.Stores[cfg.ID]
	if !ok {
		return nil, fmt.Errorf("no fake store for config %s", cfg.ID)
	}
	return st, nil
}
