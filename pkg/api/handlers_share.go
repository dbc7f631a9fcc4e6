package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/mimeutil"
	"github.com/quarryfs/quarry/pkg/s3driver"
)

// handleSharedFile streams (or redirects) a shared file addressed by
// slug. The slug is the credential: possession grants access, so the
// lookup path never consults the principal.
func (s *Server) handleSharedFile(preview bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		rec, err := s.store.GetSharedFileBySlug(ctx, c.Param("slug"))
		if errors.Is(err, metastore.ErrNotFound) {
			respondError(c, s.log, gwerr.New(gwerr.KindNotFound, "share not found"))
			return
		}
		if err != nil {
			respondError(c, s.log, gwerr.Internal(err))
			return
		}

		cfg, err := s.store.GetStorageConfig(ctx, rec.StorageConfigID)
		if err != nil {
			respondError(c, s.log, gwerr.Internal(err))
			return
		}
		drv, err := s.drivers.DriverFor(ctx, cfg)
		if err != nil {
			respondError(c, s.log, gwerr.Upstream(err))
			return
		}

		// The shared-file record stores the full object key; the driver
		// wants it store-relative.
		key := drv.StripRootPrefix(rec.ObjectKey)

		webProxy := true
		if rec.MountID != "" {
			if m, err := s.store.GetMount(ctx, rec.MountID); err == nil {
				webProxy = m.WebProxy
			}
		}

		if !webProxy {
			url, err := drv.PresignGet(ctx, key, s3driver.PresignGetOptions{
				FileName: rec.FileName,
				Inline:   preview,
			})
			if err != nil {
				respondError(c, s.log, gwerr.Upstream(err))
				return
			}
			c.Redirect(http.StatusFound, url)
			return
		}

		obj, err := drv.Get(ctx, key, c.GetHeader("Range"))
		if err != nil {
			if errors.Is(err, s3driver.ErrNotFound) {
				respondError(c, s.log, gwerr.New(gwerr.KindNotFound, "shared object is gone"))
				return
			}
			respondError(c, s.log, gwerr.Upstream(err))
			return
		}
		defer obj.Body.Close()

		h := c.Writer.Header()
		h.Set("Content-Type", mimeutil.ResponseContentType(rec.FileName, preview))
		h.Set("Content-Disposition", mimeutil.ContentDisposition(rec.FileName, preview))
		h.Set("Cache-Control", "public, max-age=31536000")
		h.Set("Content-Length", strconv.FormatInt(obj.Info.Size, 10))

		status := http.StatusOK
		if obj.ContentRange != "" {
			h.Set("Content-Range", obj.ContentRange)
			status = http.StatusPartialContent
		}
		c.Status(status)

		if _, err := io.Copy(c.Writer, obj.Body); err != nil {
			s.log.Err(err, "shared file stream interrupted for slug %s", rec.Slug)
		}
	}
}
