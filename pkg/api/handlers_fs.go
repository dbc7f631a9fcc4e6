package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/s3driver"
)

// maxProxiedPartSize bounds one Mode A part body read into memory.
const maxProxiedPartSize = 128 * 1024 * 1024

func (s *Server) handleList(c *gin.Context) {
	listing, err := s.gw.List(c.Request.Context(), principalFrom(c), c.Query("path"))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, listing)
}

func (s *Server) handleStat(c *gin.Context) {
	entry, err := s.gw.Stat(c.Request.Context(), principalFrom(c), c.Query("path"))
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, entry)
}

func (s *Server) handleDownload(c *gin.Context) {
	preview := c.Query("preview") == "true"

	dl, err := s.gw.Download(c.Request.Context(), principalFrom(c), c.Query("path"), c.GetHeader("Range"), preview)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	if dl.RedirectURL != "" {
		c.Redirect(http.StatusFound, dl.RedirectURL)
		return
	}
	defer dl.Object.Body.Close()

	s.writeObjectStream(c, dl)
}

// writeObjectStream streams a proxied object with the response headers
// the preview/download rules dictate.
func (s *Server) writeObjectStream(c *gin.Context, dl *gateway.DownloadResult) {
	h := c.Writer.Header()
	h.Set("Content-Type", dl.ContentType)
	h.Set("Content-Disposition", dl.Disposition)
	h.Set("Cache-Control", "public, max-age=31536000")
	if dl.Object.Info.ETag != "" {
		h.Set("ETag", dl.Object.Info.ETag)
	}
	h.Set("Content-Length", strconv.FormatInt(dl.Object.Info.Size, 10))

	status := http.StatusOK
	if dl.Object.ContentRange != "" {
		h.Set("Content-Range", dl.Object.ContentRange)
		status = http.StatusPartialContent
	}
	c.Status(status)

	if _, err := io.Copy(c.Writer, dl.Object.Body); err != nil {
		s.log.Err(err, "download stream interrupted")
	}
}

func (s *Server) handleSearch(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	out, err := s.gw.Search(c.Request.Context(), principalFrom(c), gateway.SearchQuery{
		Query:      c.Query("q"),
		MountID:    c.Query("mount_id"),
		PathPrefix: c.Query("path"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, out)
}

func (s *Server) handleFileLink(c *gin.Context) {
	var expires time.Duration
	if v := c.Query("expires_in"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			expires = time.Duration(secs) * time.Second
		}
	}
	forceDownload := c.Query("force_download") == "true"

	url, err := s.gw.FileLink(c.Request.Context(), principalFrom(c), c.Query("path"), expires, forceDownload)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, gin.H{"url": url})
}

func (s *Server) handleMkdir(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "path is required"))
		return
	}

	if err := s.gw.Mkdir(c.Request.Context(), principalFrom(c), req.Path); err != nil {
		respondError(c, s.log, err)
		return
	}
	respondCreated(c, gin.H{"path": req.Path})
}

// handleUpload accepts multipart/form-data with fields file, path, and
// use_multipart.
func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "file field is required"))
		return
	}
	path := c.PostForm("path")
	useMultipart := strings.EqualFold(c.PostForm("use_multipart"), "true")

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, s.log, gwerr.Internal(err))
		return
	}
	defer f.Close()

	out, err := s.gw.Upload(c.Request.Context(), principalFrom(c), path, f, fileHeader.Size, useMultipart)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondCreated(c, out)
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req struct {
		Path    string `json:"path" binding:"required"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "path is required"))
		return
	}

	out, err := s.gw.Update(c.Request.Context(), principalFrom(c), req.Path, req.Content)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, out)
}

func (s *Server) handleRename(c *gin.Context) {
	var req struct {
		OldPath string `json:"oldPath" binding:"required"`
		NewPath string `json:"newPath" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "oldPath and newPath are required"))
		return
	}

	if err := s.gw.Rename(c.Request.Context(), principalFrom(c), req.OldPath, req.NewPath); err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, gin.H{"path": req.NewPath})
}

func (s *Server) handleRemove(c *gin.Context) {
	if err := s.gw.Remove(c.Request.Context(), principalFrom(c), c.Query("path")); err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, nil)
}

func (s *Server) handleBatchRemove(c *gin.Context) {
	var req struct {
		Paths []string `json:"paths" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "paths are required"))
		return
	}

	respondOK(c, s.gw.BatchRemove(c.Request.Context(), principalFrom(c), req.Paths))
}

func (s *Server) handleBatchCopy(c *gin.Context) {
	var req struct {
		Items        []gateway.CopyItem `json:"items" binding:"required"`
		SkipExisting bool               `json:"skipExisting"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "items are required"))
		return
	}

	out, err := s.gw.BatchCopy(c.Request.Context(), principalFrom(c), req.Items, req.SkipExisting)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, out)
}

func (s *Server) handleBatchCopyCommit(c *gin.Context) {
	var req struct {
		TargetMountID string   `json:"targetMountId"`
		Files         []string `json:"files" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "files are required"))
		return
	}

	respondOK(c, s.gw.BatchCopyCommit(c.Request.Context(), principalFrom(c), req.TargetMountID, req.Files))
}

func (s *Server) handleMultipartInit(c *gin.Context) {
	var req struct {
		Path     string `json:"path" binding:"required"`
		FileName string `json:"filename"`
		FileSize int64  `json:"fileSize"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "path is required"))
		return
	}

	session, err := s.gw.InitiateMultipart(c.Request.Context(), principalFrom(c), req.Path, req.FileName, req.FileSize)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, session)
}

// handleMultipartPart forwards one raw part body. Parameters ride in the
// query string; the body is the bytes.
func (s *Server) handleMultipartPart(c *gin.Context) {
	uploadID := c.Query("uploadId")
	partNumber, err := strconv.Atoi(c.Query("partNumber"))
	if uploadID == "" || err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "uploadId and partNumber are required"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxiedPartSize+1))
	if err != nil {
		respondError(c, s.log, gwerr.Internal(err))
		return
	}
	if int64(len(data)) > maxProxiedPartSize {
		respondError(c, s.log, gwerr.New(gwerr.KindPayloadTooLarge, "part exceeds the %d byte limit", maxProxiedPartSize))
		return
	}

	etag, err := s.gw.UploadMultipartPart(c.Request.Context(), principalFrom(c), c.Query("path"), uploadID, int32(partNumber), data)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, gin.H{"etag": etag, "partNumber": partNumber})
}

func (s *Server) handleMultipartComplete(c *gin.Context) {
	var req struct {
		Path     string                   `json:"path" binding:"required"`
		UploadID string                   `json:"uploadId" binding:"required"`
		Parts    []s3driver.CompletedPart `json:"parts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "path, uploadId, and parts are required"))
		return
	}

	out, err := s.gw.CompleteMultipart(c.Request.Context(), principalFrom(c), req.Path, req.UploadID, req.Parts)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, out)
}

// handleMultipartAbort always acknowledges; the abort itself is
// best-effort against the object store.
func (s *Server) handleMultipartAbort(c *gin.Context) {
	var req struct {
		Path     string `json:"path" binding:"required"`
		UploadID string `json:"uploadId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "path and uploadId are required"))
		return
	}

	s.gw.AbortMultipart(c.Request.Context(), principalFrom(c), req.Path, req.UploadID)
	respondOK(c, gin.H{"aborted": true})
}

func (s *Server) handlePresign(c *gin.Context) {
	var req struct {
		Path     string `json:"path" binding:"required"`
		FileName string `json:"fileName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "path and fileName are required"))
		return
	}

	out, err := s.gw.PresignPut(c.Request.Context(), principalFrom(c), req.Path, req.FileName)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, out)
}

func (s *Server) handlePresignCommit(c *gin.Context) {
	var req struct {
		FileID     string `json:"fileId" binding:"required"`
		ObjectKey  string `json:"objectKey" binding:"required"`
		TargetPath string `json:"targetPath" binding:"required"`
		ETag       string `json:"etag"`
		FileSize   int64  `json:"fileSize"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, gwerr.New(gwerr.KindInvalidPath, "fileId, objectKey, and targetPath are required"))
		return
	}

	rec, err := s.gw.PresignCommit(c.Request.Context(), principalFrom(c), req.FileID, req.ObjectKey, req.TargetPath, req.ETag, req.FileSize)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	respondOK(c, rec)
}
