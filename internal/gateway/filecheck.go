// Package gateway guards the system's front door: it validates uploads,
// prescans documents for structural signals, and keeps the worker
// liveness registry that the orphan scanner feeds on.
package gateway

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/haoran/skuflow/internal/apperr"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/pipeline"
)

// maxObjectCount rejects documents whose object table is implausibly
// large for a catalog; such files are the classic decompression-bomb
// shape.
const maxObjectCount = 500000

// activeContentMarkers are raw-byte signatures of embedded active
// content. A catalog PDF never needs any of them.
var activeContentMarkers = [][]byte{
	[]byte("/JavaScript"),
	[]byte("/JS "),
	[]byte("/Launch"),
}

// FileChecker enforces the upload gate: size cap, page ceiling and the
// time-bounded security scan.
type FileChecker struct {
	parser          *pipeline.Parser
	maxPages        int
	maxFileSize     int64
	securityTimeout time.Duration
}

// NewFileChecker creates the upload gate.
func NewFileChecker(parser *pipeline.Parser, maxPages int, maxFileSize int64, securityTimeout time.Duration) *FileChecker {
	return &FileChecker{
		parser:          parser,
		maxPages:        maxPages,
		maxFileSize:     maxFileSize,
		securityTimeout: securityTimeout,
	}
}

// CheckSize rejects oversized uploads before any bytes are spooled.
func (c *FileChecker) CheckSize(size int64) error {
	if size > c.maxFileSize {
		return apperr.New(apperr.CodeFileTooLarge, apperr.SeverityWarning,
			"file size %d exceeds limit %d", size, c.maxFileSize)
	}
	return nil
}

// CheckDocument validates a spooled upload and returns its page count.
// The security scan runs under a hard timeout: a document that cannot
// be validated in time is rejected, not admitted.
func (c *FileChecker) CheckDocument(ctx context.Context, path string) (int, error) {
	if err := c.securityScan(ctx, path); err != nil {
		return 0, err
	}

	pages, err := c.parser.PageCountFile(ctx, path)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeSecurityReject, apperr.SeverityWarning, err,
			"page count unreadable")
	}
	if pages > c.maxPages {
		return 0, apperr.New(apperr.CodePageLimitExceeded, apperr.SeverityWarning,
			"document has %d pages, limit is %d", pages, c.maxPages)
	}
	if pages == 0 {
		return 0, apperr.New(apperr.CodeSecurityReject, apperr.SeverityWarning,
			"document has no pages")
	}
	return pages, nil
}

func (c *FileChecker) securityScan(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, c.securityTimeout)
	defer cancel()

	data, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrap(apperr.CodeSecurityReject, apperr.SeverityWarning, err, "unreadable upload")
	}
	if issue := scanMarkers(data); issue != "" {
		return apperr.New(apperr.CodeSecurityReject, apperr.SeverityWarning,
			"document rejected: %s", issue)
	}

	if err := c.parser.Validate(ctx, path); err != nil {
		if ctx.Err() != nil {
			logger.CtxWarn(ctx, "security scan timed out after %s", c.securityTimeout)
			return apperr.New(apperr.CodeSecurityReject, apperr.SeverityWarning,
				"document rejected: validation-timeout")
		}
		if bytes.Contains([]byte(err.Error()), []byte("ncrypt")) {
			return apperr.New(apperr.CodeSecurityReject, apperr.SeverityWarning,
				"document rejected: encrypted")
		}
		return apperr.Wrap(apperr.CodeSecurityReject, apperr.SeverityWarning, err,
			"document rejected: structurally-invalid")
	}
	return nil
}

// scanMarkers inspects raw bytes for active content and object-count
// bombs. Returns an issue tag, or empty when the file looks clean.
func scanMarkers(data []byte) string {
	if bytes.Contains(data, []byte("/Encrypt")) {
		return "encrypted"
	}
	for _, marker := range activeContentMarkers {
		if bytes.Contains(data, marker) {
			return "javascript"
		}
	}
	if bytes.Count(data, []byte(" obj")) > maxObjectCount {
		return "object-count-exceeded"
	}
	return ""
}
