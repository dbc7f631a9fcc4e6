package gateway

import (
	"context"
	"net/url"
	"strings"

	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// decorateURLs attaches preview and download URLs to a file entry.
//
// Selection rule: a proxy-mode mount routes both URLs through this
// server, which streams the object on request. Otherwise both URLs are
// presigned S3 GETs with the response disposition and content type baked
// in, so the client talks to the object store directly.
func (g *Gateway) decorateURLs(ctx context.Context, res *Resolution, entry *Entry) {
	if entry.IsDirectory {
		return
	}

	if res.Mount.WebProxy {
		entry.PreviewURL = g.proxyURL(res.Path, true)
		entry.DownloadURL = g.proxyURL(res.Path, false)
		return
	}

	if !res.Store.Has(s3driver.CapPresign) {
		return
	}

	fileName := vpath.Base(res.Path)
	if u, err := res.Store.PresignGet(ctx, res.SubPath, s3driver.PresignGetOptions{
		FileName: fileName, Inline: true,
	}); err == nil {
		entry.PreviewURL = u
	}
	if u, err := res.Store.PresignGet(ctx, res.SubPath, s3driver.PresignGetOptions{
		FileName: fileName, Inline: false,
	}); err == nil {
		entry.DownloadURL = u
	}
}

// proxyURL builds this server's own streaming endpoint for a virtual
// path.
func (g *Gateway) proxyURL(path string, preview bool) string {
	base := strings.TrimSuffix(g.cfg.BaseURL, "/")
	q := url.Values{"path": {path}}
	if preview {
		q.Set("preview", "true")
	}
	return base + "/api/fs/download?" + q.Encode()
}
