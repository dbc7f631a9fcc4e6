package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/mimeutil"
	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// SearchQuery parameterises a search call.
type SearchQuery struct {
	// Query is the case-insensitive substring to match against entry
	// names. Minimum two characters.
	Query string
	// MountID restricts the search to one mount when set.
	MountID string
	// PathPrefix restricts matches to a virtual path subtree when set.
	PathPrefix string
	Limit      int
	Offset     int
}

// Search matches entry names across the principal's visible mounts. The
// walk behind each mount is bounded, so search over very large buckets is
// best-effort breadth rather than an exhaustive index.
func (g *Gateway) Search(ctx context.Context, principal *auth.Result, q SearchQuery) (*SearchResult, error) {
	start := time.Now()
	out, err := g.search(ctx, principal, q)
	g.observe("search", start, err)
	return out, err
}

func (g *Gateway) search(ctx context.Context, principal *auth.Result, q SearchQuery) (*SearchResult, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Query))
	if len(needle) < 2 {
		return nil, gwerr.New(gwerr.KindInvalidPath, "search query must be at least 2 characters")
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var prefix string
	if q.PathPrefix != "" {
		cleaned, err := vpath.Clean(q.PathPrefix)
		if err != nil {
			return nil, err
		}
		prefix = cleaned
	}

	mounts, err := g.visibleMounts(ctx, principal)
	if err != nil {
		return nil, err
	}

	var matches []Entry
	for _, m := range mounts {
		if q.MountID != "" && m.ID != q.MountID {
			continue
		}
		if prefix != "" && !vpath.HasPrefix(prefix, m.MountPath) && !vpath.HasPrefix(m.MountPath, prefix) {
			continue
		}

		// Scoped principals cannot resolve the mount root itself; enter
		// at their allowed prefix instead so the walk stays in bounds.
		base := m.MountPath
		if !principal.AllowsPath(base) && vpath.HasPrefix(principal.AllowedPrefix, m.MountPath) {
			base = principal.AllowedPrefix
		}
		res, err := g.Resolve(ctx, base, principal)
		if err != nil {
			continue
		}

		walkErr := res.Store.Walk(ctx, res.DirPrefix(), g.cfg.SearchWalkLimit, func(info s3driver.ObjectInfo) error {
			rel := strings.TrimSuffix(info.Key, "/")
			name := vpath.Base("/" + rel)
			if !strings.Contains(strings.ToLower(name), needle) {
				return nil
			}

			full := m.MountPath
			if rel != "" {
				full = vpath.Join(m.MountPath, rel)
			}
			if !principal.AllowsPath(full) {
				return nil
			}
			if prefix != "" && !vpath.HasPrefix(full, prefix) {
				return nil
			}

			entry := Entry{
				Name:     name,
				Path:     full,
				Size:     info.Size,
				Modified: info.Modified,
				ETag:     info.ETag,
			}
			if info.IsDirectoryMarker() {
				entry.IsDirectory = true
				entry.Size = 0
				entry.ETag = ""
			} else {
				entry.MimeType = mimeutil.ByFileName(name)
			}
			matches = append(matches, entry)
			return nil
		})
		if walkErr != nil {
			return nil, gwerr.Upstream(walkErr)
		}
	}

	total := len(matches)
	startIdx := min(q.Offset, total)
	endIdx := min(startIdx+q.Limit, total)

	return &SearchResult{
		Entries: matches[startIdx:endIdx],
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}, nil
}
