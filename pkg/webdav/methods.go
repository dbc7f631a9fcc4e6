package webdav

import (
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/gwerr"
)

func (h *Handler) handleOptions(w http.ResponseWriter) {
	w.Header().Set("DAV", "1,2")
	w.Header().Set("MS-Author-Via", "DAV")
	w.Header().Set("Allow", allowedMethods)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, principal *auth.Result, path string, headOnly bool) {
	// Directory GETs answer with a minimal listing status rather than
	// content; interactive browsing belongs to the JSON API.
	if entry, err := h.gw.Stat(r.Context(), principal, path); err == nil && entry.IsDirectory {
		w.Header().Set("Content-Type", "httpd/unix-directory")
		w.WriteHeader(http.StatusOK)
		return
	}

	dl, err := h.gw.Download(r.Context(), principal, path, r.Header.Get("Range"), false)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if dl.RedirectURL != "" {
		http.Redirect(w, r, dl.RedirectURL, http.StatusFound)
		return
	}
	defer dl.Object.Body.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", dl.Disposition)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Object.Info.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	if dl.Object.Info.ETag != "" {
		w.Header().Set("ETag", dl.Object.Info.ETag)
	}
	if dl.Object.ContentRange != "" {
		w.Header().Set("Content-Range", dl.Object.ContentRange)
		w.WriteHeader(http.StatusPartialContent)
	}

	if headOnly {
		return
	}
	if _, err := io.Copy(w, dl.Object.Body); err != nil {
		h.log.Err(err, "download stream interrupted for %s", path)
	}
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, principal *auth.Result, path string) {
	size := r.ContentLength // -1 for chunked encoding

	// Empty bodies take the direct path: a zero-byte PutObject, no
	// multipart session.
	useMultipart := true
	if size >= 0 {
		mode, threshold := h.gw.UploadTuning(r.Context())
		if size == 0 || (mode == "direct" && size <= threshold) {
			useMultipart = false
		}
	}

	_, err := h.gw.Upload(r.Context(), principal, path, r.Body, size, useMultipart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, principal *auth.Result, path string) {
	// Collections require Depth: infinity when the header is present
	// (RFC 4918 §9.6.1).
	if depth := r.Header.Get("Depth"); depth != "" && depth != DepthInfinity {
		if entry, err := h.gw.Stat(r.Context(), principal, path); err == nil && entry.IsDirectory {
			h.writeError(w, gwerr.New(gwerr.KindInvalidPath, "collection DELETE requires Depth: infinity"))
			return
		}
	}

	if err := h.gw.Remove(r.Context(), principal, path); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request, principal *auth.Result, path string) {
	// MKCOL bodies are undefined here; reject rather than guess
	// (RFC 4918 §9.3).
	if body, _ := io.ReadAll(io.LimitReader(r.Body, 1)); len(body) > 0 {
		h.writeError(w, gwerr.New(gwerr.KindUnsupported, "MKCOL request bodies are not supported"))
		return
	}

	err := h.gw.MkdirExclusive(r.Context(), principal, path)
	if gwerr.Is(err, gwerr.KindConflict) {
		// RFC 4918: MKCOL on an existing resource is 405, not 409.
		http.Error(w, "collection already exists", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleProppatch(w http.ResponseWriter, r *http.Request, path string) {
	// Properties are derived from object metadata; dead properties are
	// not stored. Every patched property reports 403 in the multistatus.
	io.Copy(io.Discard, r.Body)

	ms := multistatus{
		Responses: []davResponse{{
			Href: h.href(path, false),
			Propstats: []propstat{{
				Prop:   prop{},
				Status: "HTTP/1.1 403 Forbidden",
			}},
		}},
	}
	writeMultistatus(w, ms)
}

func (h *Handler) handleCopyMove(w http.ResponseWriter, r *http.Request, principal *auth.Result, srcPath string, isMove bool) {
	dstPath, err := h.destinationPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// COPY mutates the destination; MOVE mutates both ends.
	if conflict := h.locks.Check(dstPath, r.Header.Get("If")); conflict != nil {
		h.writeError(w, gwerr.New(gwerr.KindLocked, "destination is locked"))
		return
	}
	if isMove {
		if conflict := h.locks.Check(srcPath, r.Header.Get("If")); conflict != nil {
			h.writeError(w, gwerr.New(gwerr.KindLocked, "source is locked"))
			return
		}
	}

	overwrite := !strings.EqualFold(r.Header.Get("Overwrite"), "F")
	dstExisted := false
	if _, err := h.gw.Stat(r.Context(), principal, dstPath); err == nil {
		dstExisted = true
	}
	if dstExisted && !overwrite {
		http.Error(w, "destination exists", http.StatusPreconditionFailed)
		return
	}
	if dstExisted {
		if err := h.gw.Remove(r.Context(), principal, dstPath); err != nil {
			h.writeError(w, err)
			return
		}
	}

	if isMove {
		err = h.gw.Rename(r.Context(), principal, srcPath, dstPath)
		if gwerr.Is(err, gwerr.KindCrossMountRename) {
			// Cross-mount MOVE degrades to copy-then-delete with
			// explicit failure reporting.
			err = h.copyThenDelete(w, r, principal, srcPath, dstPath)
			if err == nil {
				h.finishCopyMove(w, dstExisted)
			}
			return
		}
	} else {
		out, cerr := h.gw.BatchCopy(r.Context(), principal, []gateway.CopyItem{
			{SourcePath: srcPath, TargetPath: dstPath},
		}, false)
		err = cerr
		if err == nil && out.RequiresClientSideCopy {
			// The backend cannot copy between storage configs.
			http.Error(w, "copy crosses storage backends", http.StatusBadGateway)
			return
		}
		if err == nil && len(out.Failed) > 0 {
			err = gwerr.New(gwerr.KindNotFound, "%s", out.Failed[0].Reason)
		}
	}

	if err != nil {
		h.writeError(w, err)
		return
	}
	h.finishCopyMove(w, dstExisted)
}

// copyThenDelete implements cross-mount MOVE.
func (h *Handler) copyThenDelete(w http.ResponseWriter, r *http.Request, principal *auth.Result, srcPath, dstPath string) error {
	out, err := h.gw.BatchCopy(r.Context(), principal, []gateway.CopyItem{
		{SourcePath: srcPath, TargetPath: dstPath},
	}, false)
	if err != nil {
		h.writeError(w, err)
		return err
	}
	if out.RequiresClientSideCopy {
		err := gwerr.New(gwerr.KindUpstreamUnavailable, "move crosses storage backends")
		http.Error(w, "move crosses storage backends", http.StatusBadGateway)
		return err
	}
	if len(out.Failed) > 0 {
		err := gwerr.New(gwerr.KindNotFound, "%s", out.Failed[0].Reason)
		h.writeError(w, err)
		return err
	}
	if err := h.gw.Remove(r.Context(), principal, srcPath); err != nil {
		// The copy landed; the stale source is reported, not hidden.
		h.writeError(w, gwerr.Wrap(gwerr.KindConflict, err, "moved but failed to remove source"))
		return err
	}
	return nil
}

func (h *Handler) finishCopyMove(w http.ResponseWriter, overwrote bool) {
	if overwrote {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// lockInfo is the parsed LOCK request body (RFC 4918 §14.11).
type lockInfo struct {
	XMLName   xml.Name  `xml:"lockinfo"`
	Exclusive *struct{} `xml:"lockscope>exclusive"`
	Shared    *struct{} `xml:"lockscope>shared"`
	Owner     ownerInfo `xml:"owner"`
}

type ownerInfo struct {
	Text string `xml:",chardata"`
	Href string `xml:"href"`
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request, principal *auth.Result, path string) {
	timeout := ParseTimeoutHeader(r.Header.Get("Timeout"))
	depth := r.Header.Get("Depth")
	if depth != DepthZero {
		depth = DepthInfinity
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		h.writeError(w, gwerr.Wrap(gwerr.KindInternal, err, "failed to read LOCK body"))
		return
	}

	// An empty body with an If header is a refresh (RFC 4918 §9.10.2).
	if len(body) == 0 {
		tokens := parseIfTokens(r.Header.Get("If"))
		for token := range tokens {
			if l, ok := h.locks.Refresh(path, token, timeout); ok {
				h.writeLockResponse(w, l, http.StatusOK)
				return
			}
		}
		h.writeError(w, gwerr.New(gwerr.KindLocked, "no matching lock to refresh"))
		return
	}

	var info lockInfo
	scope := ScopeExclusive
	owner := principal.PrincipalID
	if err := xml.Unmarshal(body, &info); err == nil {
		if info.Shared != nil {
			scope = ScopeShared
		}
		if o := strings.TrimSpace(info.Owner.Href); o != "" {
			owner = o
		} else if o := strings.TrimSpace(info.Owner.Text); o != "" {
			owner = o
		}
	}

	l, ok := h.locks.Acquire(path, owner, depth, scope, timeout)
	if !ok {
		h.writeError(w, gwerr.New(gwerr.KindLocked, "resource is already locked"))
		return
	}

	// The client may have gone away between the request and the grant;
	// a token nobody received must not squat on the path.
	if r.Context().Err() != nil {
		h.locks.Release(path, l.Token)
		return
	}

	w.Header().Set("Lock-Token", "<"+l.Token+">")
	h.writeLockResponse(w, l, http.StatusOK)
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request, path string) {
	token := strings.Trim(r.Header.Get("Lock-Token"), "<> ")
	if token == "" {
		h.writeError(w, gwerr.New(gwerr.KindInvalidPath, "missing Lock-Token header"))
		return
	}

	if !h.locks.Release(path, token) {
		h.writeError(w, gwerr.New(gwerr.KindPathForbidden, "lock token does not match"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
