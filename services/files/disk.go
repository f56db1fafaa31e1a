package filesvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
)

var (
	ErrNotFound = core.NewNotFoundError("file")
	errBadPath  = errors.New("invalid file path")
)

// DiskStore keeps uploads under a media root on the local filesystem.
// Stored paths are slash separated and relative to the root.
type DiskStore struct {
	root string
}

var _ core.FileStore = (*DiskStore)(nil) // interface compliance check

func NewDiskStore(conf *core.Config) (*DiskStore, error) {
	root := conf.Upload.MediaDir
	if !filepath.IsAbs(root) {
		root = filepath.Join(conf.WorkDir, root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating media root")
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "..") {
		return "", errBadPath
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Save writes r under dir. A name already taken gets a random suffix before its extension.
func (s *DiskStore) Save(ctx context.Context, dir, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return "", errBadPath
	}

	rel := path.Join(dir, filename)
	full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrap(err, "creating upload dir")
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		ext := path.Ext(filename)
		rel = path.Join(dir, strings.TrimSuffix(filename, ext)+"_"+uuid.NewString()[:8]+ext)
		if full, err = s.resolve(rel); err != nil {
			return "", err
		}
		f, err = os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", errors.Wrap(err, "creating file")
	}

	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", errors.Wrap(err, "writing file")
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(full)
		return "", errors.Wrap(err, "closing file")
	}
	return rel, nil
}

func (s *DiskStore) Open(_ context.Context, rel string) (io.ReadCloser, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "opening file")
	}
	return f, nil
}

// Remove deletes the file; a missing file is not an error.
func (s *DiskStore) Remove(_ context.Context, rel string) error {
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err = os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing file")
	}
	return nil
}
