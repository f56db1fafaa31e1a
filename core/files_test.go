package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name    string
		up      Upload
		allowed []string
		wantMsg string
	}{
		{name: "pdf", up: Upload{Filename: "guia.pdf", Size: 10}, allowed: AttachmentExtensions},
		{name: "upper case extension", up: Upload{Filename: "FOTO.JPG", Size: 10}, allowed: AttachmentExtensions},
		{name: "at the limit", up: Upload{Filename: "guia.docx", Size: 100}, allowed: AttachmentExtensions},
		{name: "too large", up: Upload{Filename: "guia.pdf", Size: 101}, allowed: AttachmentExtensions, wantMsg: "file is too large"},
		{name: "executable", up: Upload{Filename: "setup.exe", Size: 10}, allowed: AttachmentExtensions, wantMsg: "file type not allowed; use pdf, jpg, jpeg, png, doc or docx"},
		{name: "no extension", up: Upload{Filename: "guia", Size: 10}, allowed: AttachmentExtensions, wantMsg: "file type not allowed; use pdf, jpg, jpeg, png, doc or docx"},
		{name: "single type", up: Upload{Filename: "guia.doc", Size: 10}, allowed: []string{".pdf"}, wantMsg: "file type not allowed; use pdf"},
		{name: "parent reference", up: Upload{Filename: "../guia.pdf", Size: 10}, allowed: AttachmentExtensions, wantMsg: "invalid file name"},
		{name: "separator", up: Upload{Filename: "a/guia.pdf", Size: 10}, allowed: AttachmentExtensions, wantMsg: "invalid file name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.up, "file", 100, tt.allowed)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			verr, ok := err.(*ValidationError)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, []FieldError{{Field: "file", Error: tt.wantMsg}}, verr.Fields)
		})
	}
}
