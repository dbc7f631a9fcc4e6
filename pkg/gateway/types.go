package gateway

import (
	"time"

	"github.com/quarryfs/quarry/pkg/s3driver"
)

// Entry describes one file or directory in the virtual filesystem.
type Entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	MimeType    string    `json:"mimetype,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	PreviewURL  string    `json:"previewUrl,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
}

// DirectoryListing is a snapshot of one directory level. Self is the
// listed directory's own entry (WebDAV PROPFIND emits it first).
type DirectoryListing struct {
	Path        string    `json:"path"`
	Self        Entry     `json:"self"`
	Entries     []Entry   `json:"entries"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// UploadResult reports a committed upload.
type UploadResult struct {
	ObjectKey string `json:"objectKey"`
	ETag      string `json:"etag"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimetype"`
	// Parts is the number of multipart parts, 0 for single-shot puts.
	Parts int `json:"parts,omitempty"`
}

// MultipartSession is returned by Initiate. The server holds no session
// state; the caller carries UploadID and Key through part, complete, and
// abort calls.
type MultipartSession struct {
	UploadID            string `json:"uploadId"`
	Key                 string `json:"key"`
	RecommendedPartSize int64  `json:"recommendedPartSize"`
}

// BatchResult is the best-effort outcome shape of batch operations.
type BatchResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BatchFailed `json:"failed"`
}

// BatchFailed names one failed item and the reason.
type BatchFailed struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// CopyItem is one source/target pair of a batch copy.
type CopyItem struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
}

// CopyResult reports a batch copy. When items cross storage configs the
// server does not stream between buckets; those items come back under
// CrossStorage and the caller runs presigned upload + authenticated
// download cycles itself.
type CopyResult struct {
	RequiresClientSideCopy bool             `json:"requiresClientSideCopy"`
	Copied                 []string         `json:"copied,omitempty"`
	Skipped                []string         `json:"skipped,omitempty"`
	Failed                 []BatchFailed    `json:"failed,omitempty"`
	CrossStorage           []CrossCopyItem  `json:"crossStorage,omitempty"`
}

// CrossCopyItem carries what the client needs to copy one object across
// storage configs by itself.
type CrossCopyItem struct {
	SourcePath    string `json:"sourcePath"`
	TargetPath    string `json:"targetPath"`
	TargetMountID string `json:"targetMountId"`
}

// PresignedUpload is returned by PresignPut.
type PresignedUpload struct {
	URL       string `json:"presignedUrl"`
	ObjectKey string `json:"objectKey"`
	FileID    string `json:"fileId"`
	MimeType  string `json:"mimetype"`
}

// DownloadResult is either an open object stream (proxy mode) or a
// redirect target (presigned mode). Exactly one of Object/RedirectURL is
// set.
type DownloadResult struct {
	Object      *s3driver.Object
	RedirectURL string
	FileName    string
	ContentType string
	Disposition string
}

// SearchResult is one page of search matches.
type SearchResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}
