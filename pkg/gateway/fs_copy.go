package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/s3driver"
)

// Rename moves a file or directory within one mount via copy-then-delete.
// The sequence is HEAD (existence and conflict checks), COPY, DELETE;
// a crash between copy and delete leaves the source in place, which is
// the safe direction. Cross-mount renames are refused.
func (g *Gateway) Rename(ctx context.Context, principal *auth.Result, oldPath, newPath string) error {
	start := time.Now()
	err := g.rename(ctx, principal, oldPath, newPath)
	g.observe("rename", start, err)
	return err
}

func (g *Gateway) rename(ctx context.Context, principal *auth.Result, oldPath, newPath string) error {
	src, err := g.Resolve(ctx, oldPath, principal)
	if err != nil {
		return err
	}
	dst, err := g.Resolve(ctx, newPath, principal)
	if err != nil {
		return err
	}

	if src.Mount.ID != dst.Mount.ID {
		return gwerr.New(gwerr.KindCrossMountRename, "cannot rename across mounts (%s -> %s)", oldPath, newPath)
	}
	if !src.Store.Has(s3driver.CapCopy) {
		return gwerr.New(gwerr.KindUnsupported, "storage backend does not support copy")
	}
	if src.SubPath == "" || dst.SubPath == "" {
		return gwerr.New(gwerr.KindInvalidPath, "cannot rename a mount root")
	}

	if exists, err := g.targetExists(ctx, dst); err != nil {
		return err
	} else if exists {
		return gwerr.New(gwerr.KindConflict, "target already exists: %s", dst.Path)
	}

	// File rename first; fall through to directory rename.
	if _, err := src.Store.Head(ctx, src.SubPath); err == nil {
		if _, cerr := src.Store.Copy(ctx, src.SubPath, dst.SubPath); cerr != nil {
			return gwerr.Upstream(cerr)
		}
		if derr := src.Store.Delete(ctx, src.SubPath); derr != nil {
			return gwerr.Upstream(derr)
		}
		g.commitMutation(ctx, src)
		g.commitMutation(ctx, dst)
		return nil
	} else if !errors.Is(err, s3driver.ErrNotFound) {
		return gwerr.Upstream(err)
	}

	// Directory rename: copy every object under the prefix, then delete
	// the originals. Best-effort with explicit failure reporting.
	srcPrefix := src.SubPath + "/"
	dstPrefix := dst.SubPath + "/"

	var srcKeys []string
	walkErr := src.Store.Walk(ctx, srcPrefix, 0, func(info s3driver.ObjectInfo) error {
		srcKeys = append(srcKeys, info.Key)
		return nil
	})
	if walkErr != nil {
		return gwerr.Upstream(walkErr)
	}
	if _, err := src.Store.Head(ctx, srcPrefix); err == nil {
		srcKeys = append(srcKeys, srcPrefix)
	}
	if len(srcKeys) == 0 {
		return gwerr.New(gwerr.KindNotFound, "no such file or directory: %s", src.Path)
	}

	for _, key := range srcKeys {
		rel := key[len(srcPrefix):]
		if _, err := src.Store.Copy(ctx, key, dstPrefix+rel); err != nil {
			return gwerr.Upstream(err)
		}
	}

	if failures, err := src.Store.DeleteBatch(ctx, srcKeys); err != nil {
		return gwerr.Upstream(err)
	} else if len(failures) > 0 {
		for k, ferr := range failures {
			g.log.Err(ferr, "rename left source object %s in place", k)
		}
	}

	g.commitMutation(ctx, src)
	g.commitMutation(ctx, dst)
	return nil
}

// targetExists reports whether anything (file, marker, or implicit
// directory) lives at the resolved path.
func (g *Gateway) targetExists(ctx context.Context, res *Resolution) (bool, error) {
	if _, err := res.Store.Head(ctx, res.SubPath); err == nil {
		return true, nil
	} else if !errors.Is(err, s3driver.ErrNotFound) {
		return false, gwerr.Upstream(err)
	}
	if _, err := res.Store.Head(ctx, res.SubPath+"/"); err == nil {
		return true, nil
	} else if !errors.Is(err, s3driver.ErrNotFound) {
		return false, gwerr.Upstream(err)
	}
	raw, err := res.Store.ListDir(ctx, res.SubPath+"/")
	if err != nil {
		return false, gwerr.Upstream(err)
	}
	return len(raw.Prefixes) > 0 || len(raw.Objects) > 0, nil
}

// BatchCopy copies items between virtual paths. Pairs within one storage
// config copy server-side; pairs crossing storage configs are returned
// under CrossStorage so the caller runs presigned upload + download
// cycles itself; the gateway never streams between buckets.
func (g *Gateway) BatchCopy(ctx context.Context, principal *auth.Result, items []CopyItem, skipExisting bool) (*CopyResult, error) {
	start := time.Now()
	out, err := g.batchCopy(ctx, principal, items, skipExisting)
	g.observe("batch_copy", start, err)
	return out, err
}

func (g *Gateway) batchCopy(ctx context.Context, principal *auth.Result, items []CopyItem, skipExisting bool) (*CopyResult, error) {
	result := &CopyResult{}

	for _, item := range items {
		src, err := g.Resolve(ctx, item.SourcePath, principal)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailed{Path: item.SourcePath, Reason: gwerr.AsError(err).Message})
			continue
		}
		dst, err := g.Resolve(ctx, item.TargetPath, principal)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailed{Path: item.TargetPath, Reason: gwerr.AsError(err).Message})
			continue
		}

		if src.Config.ID != dst.Config.ID {
			result.RequiresClientSideCopy = true
			result.CrossStorage = append(result.CrossStorage, CrossCopyItem{
				SourcePath:    item.SourcePath,
				TargetPath:    item.TargetPath,
				TargetMountID: dst.Mount.ID,
			})
			continue
		}

		if skipExisting {
			if exists, err := g.targetExists(ctx, dst); err == nil && exists {
				result.Skipped = append(result.Skipped, item.TargetPath)
				continue
			}
		}

		if _, err := src.Store.Copy(ctx, src.SubPath, dst.SubPath); err != nil {
			result.Failed = append(result.Failed, BatchFailed{Path: item.SourcePath, Reason: "copy failed"})
			g.log.Err(err, "batch copy failed for %s", item.SourcePath)
			continue
		}

		g.commitMutation(ctx, dst)
		result.Copied = append(result.Copied, item.TargetPath)
	}

	return result, nil
}

// BatchCopyCommit acknowledges client-side cross-storage copies: the
// client has finished its presigned uploads, so target ancestors get
// fresh modification times and their cache entries drop.
func (g *Gateway) BatchCopyCommit(ctx context.Context, principal *auth.Result, targetMountID string, targetPaths []string) *BatchResult {
	out := &BatchResult{Succeeded: []string{}, Failed: []BatchFailed{}}

	for _, p := range targetPaths {
		res, err := g.Resolve(ctx, p, principal)
		if err != nil {
			out.Failed = append(out.Failed, BatchFailed{Path: p, Reason: gwerr.AsError(err).Message})
			continue
		}
		if targetMountID != "" && res.Mount.ID != targetMountID {
			out.Failed = append(out.Failed, BatchFailed{Path: p, Reason: "path resolves outside the target mount"})
			continue
		}
		g.commitMutation(ctx, res)
		out.Succeeded = append(out.Succeeded, p)
	}

	return out
}
