package gateway

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/mimeutil"
	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// List returns the directory listing for path, serving from the
// directory cache when fresh. On miss, one ListObjectsV2 level with
// Delimiter="/" is aggregated: common prefixes become subdirectories,
// objects become files, and explicit directory markers are folded into
// their implicit counterparts rather than emitted as file entries.
func (g *Gateway) List(ctx context.Context, principal *auth.Result, path string) (*DirectoryListing, error) {
	start := time.Now()
	listing, err := g.list(ctx, principal, path)
	g.observe("list", start, err)
	return listing, err
}

func (g *Gateway) list(ctx context.Context, principal *auth.Result, path string) (*DirectoryListing, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return nil, err
	}
	if !res.Store.Has(s3driver.CapList) {
		return nil, gwerr.New(gwerr.KindUnsupported, "storage backend does not support listing")
	}

	key := CacheKey{MountID: res.Mount.ID, SubPath: res.SubPath, Class: principal.CacheClass()}
	ttl := effectiveTTL(res.Mount, res.Config)

	if cached := g.cache.Get(key); cached != nil {
		return cached, nil
	}

	raw, err := res.Store.ListDir(ctx, res.DirPrefix())
	if err != nil {
		return nil, gwerr.Upstream(err)
	}

	listing := g.buildListing(ctx, res, raw)
	g.cache.Put(key, listing, ttl)
	return listing, nil
}

// buildListing aggregates one raw S3 level into entries.
func (g *Gateway) buildListing(ctx context.Context, res *Resolution, raw *s3driver.DirListing) *DirectoryListing {
	now := time.Now()

	listing := &DirectoryListing{
		Path:        res.Path,
		RefreshedAt: now,
		Entries:     make([]Entry, 0, len(raw.Prefixes)+len(raw.Objects)),
	}

	selfModified := now
	if at, ok := g.dirModified(ctx, res.Mount.ID, res.SubPath); ok {
		selfModified = at
	}
	listing.Self = Entry{
		Name:        vpath.Base(res.Path),
		Path:        res.Path,
		IsDirectory: true,
		Modified:    selfModified,
	}

	seenDirs := make(map[string]bool, len(raw.Prefixes))
	for _, prefix := range raw.Prefixes {
		name := vpath.Base("/" + strings.TrimSuffix(prefix, "/"))
		if name == "" || seenDirs[name] {
			continue
		}
		seenDirs[name] = true

		sub := strings.TrimSuffix(prefix, "/")
		modified := now
		if at, ok := g.dirModified(ctx, res.Mount.ID, sub); ok {
			modified = at
		}
		listing.Entries = append(listing.Entries, Entry{
			Name:        name,
			Path:        vpath.Join(res.Path, name),
			IsDirectory: true,
			Modified:    modified,
		})
	}

	for _, obj := range raw.Objects {
		name := vpath.Base("/" + obj.Key)
		if obj.IsDirectoryMarker() {
			// Explicit markers fold into the implicit directory view.
			name = vpath.Base("/" + strings.TrimSuffix(obj.Key, "/"))
			if name == "" || seenDirs[name] {
				continue
			}
			seenDirs[name] = true
			listing.Entries = append(listing.Entries, Entry{
				Name:        name,
				Path:        vpath.Join(res.Path, name),
				IsDirectory: true,
				Modified:    obj.Modified,
			})
			continue
		}

		listing.Entries = append(listing.Entries, Entry{
			Name:     name,
			Path:     vpath.Join(res.Path, name),
			Size:     obj.Size,
			Modified: obj.Modified,
			MimeType: mimeutil.ByFileName(name),
			ETag:     obj.ETag,
		})
	}

	sort.Slice(listing.Entries, func(i, j int) bool {
		a, b := listing.Entries[i], listing.Entries[j]
		if a.IsDirectory != b.IsDirectory {
			return a.IsDirectory
		}
		return a.Name < b.Name
	})

	return listing
}

// Stat returns the entry for one path, decorated with preview and
// download URLs. Directories are recognised through any of: the path
// being a mount root, an explicit marker object, the directory content
// type, or the presence of children (implicit directory).
func (g *Gateway) Stat(ctx context.Context, principal *auth.Result, path string) (*Entry, error) {
	start := time.Now()
	entry, err := g.stat(ctx, principal, path)
	g.observe("stat", start, err)
	return entry, err
}

func (g *Gateway) stat(ctx context.Context, principal *auth.Result, path string) (*Entry, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return nil, err
	}

	if res.SubPath == "" {
		return g.dirEntry(ctx, res), nil
	}

	info, err := res.Store.Head(ctx, res.SubPath)
	if err == nil {
		if info.ContentType == s3driver.DirectoryContentType {
			return g.dirEntry(ctx, res), nil
		}
		entry := &Entry{
			Name:     vpath.Base(res.Path),
			Path:     res.Path,
			Size:     info.Size,
			Modified: info.Modified,
			MimeType: mimeutil.ByFileName(vpath.Base(res.Path)),
			ETag:     info.ETag,
		}
		g.decorateURLs(ctx, res, entry)
		return entry, nil
	}
	if !errors.Is(err, s3driver.ErrNotFound) {
		return nil, gwerr.Upstream(err)
	}

	// No object at the key: explicit marker, then implicit directory.
	if _, merr := res.Store.Head(ctx, res.SubPath+"/"); merr == nil {
		return g.dirEntry(ctx, res), nil
	}
	raw, lerr := res.Store.ListDir(ctx, res.SubPath+"/")
	if lerr == nil && (len(raw.Prefixes) > 0 || len(raw.Objects) > 0) {
		return g.dirEntry(ctx, res), nil
	}

	return nil, gwerr.New(gwerr.KindNotFound, "no such file or directory: %s", res.Path)
}

// dirEntry synthesizes the entry for a directory path.
func (g *Gateway) dirEntry(ctx context.Context, res *Resolution) *Entry {
	modified := time.Now()
	if at, ok := g.dirModified(ctx, res.Mount.ID, res.SubPath); ok {
		modified = at
	}
	return &Entry{
		Name:        vpath.Base(res.Path),
		Path:        res.Path,
		IsDirectory: true,
		Modified:    modified,
	}
}

// Download opens path for reading. Proxy-mode mounts stream the object
// through the gateway (honouring Range); redirect-mode mounts return a
// presigned URL instead.
func (g *Gateway) Download(ctx context.Context, principal *auth.Result, path, rangeHeader string, preview bool) (*DownloadResult, error) {
	start := time.Now()
	out, err := g.download(ctx, principal, path, rangeHeader, preview)
	g.observe("download", start, err)
	return out, err
}

func (g *Gateway) download(ctx context.Context, principal *auth.Result, path, rangeHeader string, preview bool) (*DownloadResult, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return nil, err
	}
	if vpath.IsRoot(res.Path) || res.SubPath == "" {
		return nil, gwerr.New(gwerr.KindInvalidPath, "cannot download a directory")
	}

	fileName := vpath.Base(res.Path)

	if !res.Mount.WebProxy {
		if !res.Store.Has(s3driver.CapPresign) {
			return nil, gwerr.New(gwerr.KindUnsupported, "storage backend does not support presigned URLs")
		}
		url, err := res.Store.PresignGet(ctx, res.SubPath, s3driver.PresignGetOptions{
			FileName: fileName,
			Inline:   preview,
		})
		if err != nil {
			return nil, gwerr.Upstream(err)
		}
		return &DownloadResult{RedirectURL: url, FileName: fileName}, nil
	}

	if !res.Store.Has(s3driver.CapProxy) {
		return nil, gwerr.New(gwerr.KindUnsupported, "storage backend does not support proxying")
	}

	obj, err := res.Store.Get(ctx, res.SubPath, rangeHeader)
	if err != nil {
		if errors.Is(err, s3driver.ErrNotFound) {
			return nil, gwerr.New(gwerr.KindNotFound, "no such file: %s", res.Path)
		}
		return nil, gwerr.Upstream(err)
	}

	g.metrics.RecordBytes("download", obj.Info.Size)

	return &DownloadResult{
		Object:      obj,
		FileName:    fileName,
		ContentType: mimeutil.ResponseContentType(fileName, preview),
		Disposition: mimeutil.ContentDisposition(fileName, preview),
	}, nil
}

// FileLink builds a shareable link for path: a presigned GET for
// redirect-mode mounts, or the gateway's own proxy endpoint for
// proxy-mode mounts.
func (g *Gateway) FileLink(ctx context.Context, principal *auth.Result, path string, expiresIn time.Duration, forceDownload bool) (string, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return "", err
	}
	if res.SubPath == "" {
		return "", gwerr.New(gwerr.KindInvalidPath, "cannot link a directory")
	}

	if res.Mount.WebProxy {
		return g.proxyURL(res.Path, !forceDownload), nil
	}

	url, err := res.Store.PresignGet(ctx, res.SubPath, s3driver.PresignGetOptions{
		FileName: vpath.Base(res.Path),
		Inline:   !forceDownload,
		Expires:  expiresIn,
	})
	if err != nil {
		return "", gwerr.Upstream(err)
	}
	return url, nil
}
