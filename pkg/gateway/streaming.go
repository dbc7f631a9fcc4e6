package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/s3driver"
)

// streamUpload consumes body as a stream and writes it to res.SubPath.
//
// Pipeline shape: the producer (this goroutine) reads the body into
// part-sized buffers drawn from a fixed pool of QueueDepth buffers, so at
// most QueueDepth × PartSize bytes are ever resident. QueueDepth workers
// upload parts concurrently; the producer blocks whenever every buffer is
// in flight, which is the backpressure against slow object stores.
//
// Small bodies never open a multipart session: a body that ends inside
// the first part goes out as a single PutObject, and an empty body
// produces a zero-byte object the same way (object stores reject
// zero-part multipart completes).
//
// Any part failure, after the driver's own per-part retries, cancels
// the pipeline, aborts the multipart upload, and propagates the first
// error. Client disconnects take the same path through context
// cancellation.
func (g *Gateway) streamUpload(ctx context.Context, res *Resolution, body io.Reader, declaredSize int64, contentType string) (*UploadResult, error) {
	if !res.Store.Has(s3driver.CapMultipart) {
		return nil, gwerr.New(gwerr.KindUnsupported, "storage backend does not support multipart uploads")
	}

	partSize := g.cfg.PartSize
	depth := g.cfg.QueueDepth

	pool := make(chan []byte, depth)
	for range depth {
		pool <- make([]byte, partSize)
	}

	// First part decides the upload shape.
	first := <-pool
	n, err := readFullPart(body, first)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, gwerr.Wrap(gwerr.KindInternal, err, "failed to read upload body")
	}
	eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)

	if eof {
		if declaredSize >= 0 && declaredSize != int64(n) {
			return nil, gwerr.New(gwerr.KindSizeMismatch, "declared %d bytes, received %d", declaredSize, n)
		}
		info, perr := res.Store.Put(ctx, res.SubPath, bytes.NewReader(first[:n]), int64(n), contentType)
		if perr != nil {
			return nil, gwerr.Upstream(perr)
		}
		g.metrics.RecordBytes("upload", int64(n))
		return &UploadResult{
			ObjectKey: res.Store.Key(res.SubPath),
			ETag:      info.ETag,
			Size:      int64(n),
			MimeType:  contentType,
		}, nil
	}

	// The body exceeds one part: open a multipart session.
	uploadID, err := res.Store.CreateMultipart(ctx, res.SubPath, contentType)
	if err != nil {
		return nil, gwerr.Upstream(err)
	}
	g.metrics.RecordMultipart("initiated")

	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type partJob struct {
		num  int32
		data []byte
	}

	jobs := make(chan partJob)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		parts    []s3driver.CompletedPart
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for range depth {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				etag, err := res.Store.UploadPart(pipeCtx, res.SubPath, uploadID, job.num, job.data)
				if err != nil {
					fail(err)
				} else {
					mu.Lock()
					parts = append(parts, s3driver.CompletedPart{PartNumber: job.num, ETag: etag})
					mu.Unlock()
					g.metrics.RecordBytes("upload", int64(len(job.data)))
				}
				// Return the buffer regardless of outcome so the
				// producer never deadlocks on a failing pipeline.
				pool <- job.data[:cap(job.data)]
			}
		}()
	}

	var (
		partNum int32 = 1
		total         = int64(n)
	)
	jobs <- partJob{num: partNum, data: first[:n]}

	for {
		var buf []byte
		select {
		case buf = <-pool:
		case <-pipeCtx.Done():
		}
		if pipeCtx.Err() != nil {
			break
		}

		n, err := readFullPart(body, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			pool <- buf
			fail(err)
			break
		}

		if n > 0 {
			partNum++
			total += int64(n)
			select {
			case jobs <- partJob{num: partNum, data: buf[:n]}:
			case <-pipeCtx.Done():
			}
		} else {
			pool <- buf
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
	}

	close(jobs)
	wg.Wait()

	mu.Lock()
	err = firstErr
	completed := make([]s3driver.CompletedPart, len(parts))
	copy(completed, parts)
	mu.Unlock()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && declaredSize >= 0 && declaredSize != total {
		err = gwerr.New(gwerr.KindSizeMismatch, "declared %d bytes, received %d", declaredSize, total)
	}

	if err != nil {
		g.abortMultipart(res.Store, res.SubPath, uploadID)
		var gerr *gwerr.Error
		if errors.As(err, &gerr) {
			return nil, gerr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, gwerr.Wrap(gwerr.KindInternal, err, "upload cancelled")
		}
		return nil, gwerr.Upstream(err)
	}

	etag, err := res.Store.CompleteMultipart(ctx, res.SubPath, uploadID, completed)
	if err != nil {
		g.abortMultipart(res.Store, res.SubPath, uploadID)
		return nil, gwerr.Upstream(err)
	}
	g.metrics.RecordMultipart("completed")

	return &UploadResult{
		ObjectKey: res.Store.Key(res.SubPath),
		ETag:      etag,
		Size:      total,
		MimeType:  contentType,
		Parts:     len(completed),
	}, nil
}

// abortMultipart issues a best-effort AbortMultipartUpload on a fresh
// context, so aborts survive the cancelled request that triggered them.
// Shutdown waits for in-flight aborts through the gateway's WaitGroup.
func (g *Gateway) abortMultipart(store ObjectStore, key, uploadID string) {
	g.aborts.Add(1)
	go func() {
		defer g.aborts.Done()
		abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.AbortMultipart(abortCtx, key, uploadID); err != nil {
			g.log.Err(err, "failed to abort multipart upload %s", uploadID)
		} else {
			g.metrics.RecordMultipart("aborted")
		}
	}()
}

// readFullPart fills buf from r. Returns io.EOF when the reader ends
// exactly at a part boundary and io.ErrUnexpectedEOF when it ends inside
// buf; n is valid in both cases.
func readFullPart(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	return n, err
}
