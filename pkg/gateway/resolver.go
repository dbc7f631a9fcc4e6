package gateway

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// Resolution is the outcome of mapping a virtual path onto a mount.
type Resolution struct {
	Path   string
	Mount  *metastore.Mount
	Config *metastore.StorageConfig
	Store  ObjectStore

	// SubPath is Path with the mount path stripped, no leading slash.
	// Empty for the mount root.
	SubPath string
}

// DirPrefix returns the store-relative listing prefix for this path
// ("" for the mount root, otherwise "sub/path/").
func (r *Resolution) DirPrefix() string {
	if r.SubPath == "" {
		return ""
	}
	return r.SubPath + "/"
}

// DirKey returns the explicit directory marker key for this path.
func (r *Resolution) DirKey() string {
	return r.DirPrefix()
}

// Resolve maps a virtual path to its mount, storage config, and driver,
// enforcing the principal's allowed prefix first. Tie-breaking between
// mounts: the longest mount path wins; equal lengths fall to the most
// recently created mount, which keeps resolution deterministic when an
// admin replaces a mount in place.
func (g *Gateway) Resolve(ctx context.Context, path string, principal *auth.Result) (*Resolution, error) {
	cleaned, err := vpath.Clean(path)
	if err != nil {
		return nil, err
	}

	if !principal.AllowsPath(cleaned) {
		return nil, gwerr.New(gwerr.KindPathForbidden, "path %s is outside the allowed prefix", cleaned)
	}

	mounts, err := g.store.ListMounts(ctx)
	if err != nil {
		return nil, gwerr.Internal(err)
	}

	var match *metastore.Mount
	for _, m := range mounts {
		if !vpath.HasPrefix(cleaned, m.MountPath) {
			continue
		}
		if match == nil || betterMatch(m, match) {
			match = m
		}
	}
	if match == nil {
		return nil, gwerr.New(gwerr.KindMountNotFound, "no mount resolves %s", cleaned)
	}

	cfg, err := g.store.GetStorageConfig(ctx, match.StorageConfigID)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, gwerr.New(gwerr.KindMountNotFound, "mount %s references missing storage config", match.MountPath)
	}
	if err != nil {
		return nil, gwerr.Internal(err)
	}

	store, err := g.drivers.DriverFor(ctx, cfg)
	if err != nil {
		return nil, gwerr.Upstream(err)
	}

	// Best-effort recency tracking; resolution never fails on it.
	if err := g.store.TouchMount(ctx, match.ID, time.Now()); err != nil {
		g.log.Err(err, "failed to touch mount %s", match.MountPath)
	}

	return &Resolution{
		Path:    cleaned,
		Mount:   match,
		Config:  cfg,
		Store:   store,
		SubPath: vpath.StripPrefix(cleaned, match.MountPath),
	}, nil
}

// betterMatch reports whether a beats b under the resolution tie-break.
func betterMatch(a, b *metastore.Mount) bool {
	if len(a.MountPath) != len(b.MountPath) {
		return len(a.MountPath) > len(b.MountPath)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// visibleMounts returns the mounts whose subtree intersects the
// principal's allowed prefix, longest mount path first. Used by search.
func (g *Gateway) visibleMounts(ctx context.Context, principal *auth.Result) ([]*metastore.Mount, error) {
	mounts, err := g.store.ListMounts(ctx)
	if err != nil {
		return nil, gwerr.Internal(err)
	}

	visible := mounts[:0]
	for _, m := range mounts {
		if principal.IsAdmin() ||
			vpath.HasPrefix(m.MountPath, principal.AllowedPrefix) ||
			vpath.HasPrefix(principal.AllowedPrefix, m.MountPath) {
			visible = append(visible, m)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return len(visible[i].MountPath) > len(visible[j].MountPath)
	})
	return visible, nil
}
