package filesvc

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core"
)

func newStore(t *testing.T) *DiskStore {
	conf := core.NewTestConfig()
	conf.Upload.MediaDir = t.TempDir()
	s, err := NewDiskStore(conf)
	require.NoError(t, err)
	return s
}

func TestDiskStore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	p1, err := s.Save(ctx, "documents", "reglamento.pdf", strings.NewReader("v1"))
	require.NoError(t, err)
	assert.Equal(t, "documents/reglamento.pdf", p1)

	p2, err := s.Save(ctx, "documents", "reglamento.pdf", strings.NewReader("v2"))
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.True(t, strings.HasPrefix(p2, "documents/reglamento_"))
	assert.True(t, strings.HasSuffix(p2, ".pdf"))

	rc, err := s.Open(ctx, p1)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))

	require.NoError(t, s.Remove(ctx, p1))
	require.NoError(t, s.Remove(ctx, p1), "removing twice is fine")
	_, err = s.Open(ctx, p1)
	assert.Equal(t, ErrNotFound, err)
}

func TestDiskStore_rejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tests := []struct {
		name     string
		dir      string
		filename string
	}{
		{name: "empty name", dir: "documents", filename: ""},
		{name: "parent in name", dir: "documents", filename: "../passwd"},
		{name: "separator in name", dir: "documents", filename: "a/b.pdf"},
		{name: "parent in dir", dir: "../etc", filename: "passwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Save(ctx, tt.dir, tt.filename, strings.NewReader("x")); err == nil {
				t.Errorf("Save(%q, %q) error = nil, want error", tt.dir, tt.filename)
			}
		})
	}

	_, err := s.Open(ctx, "../../etc/passwd")
	assert.Error(t, err)
}
