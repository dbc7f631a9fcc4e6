package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// Remove deletes a file, or a directory recursively. The virtual root
// and mount roots are refused; the root-marker sentinel is never
// deleted.
func (g *Gateway) Remove(ctx context.Context, principal *auth.Result, path string) error {
	start := time.Now()
	err := g.remove(ctx, principal, path)
	g.observe("remove", start, err)
	return err
}

func (g *Gateway) remove(ctx context.Context, principal *auth.Result, path string) error {
	if p, err := vpath.Clean(path); err == nil && vpath.IsRoot(p) {
		return gwerr.New(gwerr.KindInvalidPath, "cannot remove %s", p)
	}
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return err
	}
	if !res.Store.Has(s3driver.CapWrite) {
		return gwerr.New(gwerr.KindUnsupported, "storage backend is read-only")
	}
	if vpath.IsRoot(res.Path) || res.SubPath == "" {
		return gwerr.New(gwerr.KindInvalidPath, "cannot remove %s", res.Path)
	}

	// A plain object at the key is the common case.
	if _, err := res.Store.Head(ctx, res.SubPath); err == nil {
		if derr := res.Store.Delete(ctx, res.SubPath); derr != nil {
			return gwerr.Upstream(derr)
		}
		g.commitMutation(ctx, res)
		return nil
	} else if !errors.Is(err, s3driver.ErrNotFound) {
		return gwerr.Upstream(err)
	}

	// Directory: collect every key under the prefix plus the explicit
	// marker, then delete in batches. The root marker never shows up
	// here; the driver's walk filters it.
	prefix := res.SubPath + "/"
	var keys []string
	walkErr := res.Store.Walk(ctx, prefix, 0, func(info s3driver.ObjectInfo) error {
		keys = append(keys, info.Key)
		return nil
	})
	if walkErr != nil {
		return gwerr.Upstream(walkErr)
	}

	hasMarker := false
	if _, err := res.Store.Head(ctx, prefix); err == nil {
		hasMarker = true
	}

	if len(keys) == 0 && !hasMarker {
		return gwerr.New(gwerr.KindNotFound, "no such file or directory: %s", res.Path)
	}

	for _, k := range keys {
		if k == prefix {
			hasMarker = false // marker already in the walk result
		}
	}
	if hasMarker {
		keys = append(keys, prefix)
	}

	failures, err := res.Store.DeleteBatch(ctx, keys)
	if err != nil {
		return gwerr.Upstream(err)
	}
	if len(failures) > 0 {
		for k, ferr := range failures {
			g.log.Err(ferr, "failed to delete %s", k)
		}
		return gwerr.Upstream(errors.New("partial directory delete"))
	}

	g.commitMutation(ctx, res)
	return nil
}

// BatchRemove deletes each path best-effort: failures are collected per
// item and never abort the batch.
func (g *Gateway) BatchRemove(ctx context.Context, principal *auth.Result, paths []string) *BatchResult {
	start := time.Now()
	out := &BatchResult{Succeeded: []string{}, Failed: []BatchFailed{}}

	for _, p := range paths {
		if err := g.remove(ctx, principal, p); err != nil {
			out.Failed = append(out.Failed, BatchFailed{Path: p, Reason: gwerr.AsError(err).Message})
		} else {
			out.Succeeded = append(out.Succeeded, p)
		}
	}

	g.observe("batch_remove", start, nil)
	return out
}
