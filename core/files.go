package core

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// AttachmentExtensions are the file types students and teachers may attach.
var AttachmentExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".doc", ".docx"}

// Upload is a file as received from the client.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// SafeFilename reports whether name can be stored as is: no parent references and no path separators.
func (up Upload) SafeFilename() bool {
	name := up.Filename
	return name != "" && !strings.Contains(name, "..") && !strings.ContainsAny(name, `/\`)
}

// ValidateUpload checks the name, extension and size of an upload and reports problems on field.
func ValidateUpload(up Upload, field string, maxSize int64, allowed []string) error {
	if !up.SafeFilename() {
		return NewFieldError(field, "invalid file name")
	}
	if !StringInSlice(strings.ToLower(filepath.Ext(up.Filename)), allowed) {
		exts := make([]string, len(allowed))
		for i, ext := range allowed {
			exts[i] = strings.TrimPrefix(ext, ".")
		}
		list := exts[len(exts)-1]
		if len(exts) > 1 {
			list = strings.Join(exts[:len(exts)-1], ", ") + " or " + list
		}
		return NewFieldError(field, "file type not allowed; use "+list)
	}
	if up.Size > maxSize {
		return NewFieldError(field, "file is too large")
	}
	return nil
}

// FileStore keeps uploaded files. Save returns the relative path the file was stored under.
type FileStore interface {
	Save(ctx context.Context, dir, filename string, r io.Reader) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, path string) error
}

// HumanSize formats a byte count as B, KB or MB.
func HumanSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
