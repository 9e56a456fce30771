package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FilesystemStore keeps attachments under a local directory, for development
// and tests. URLs use the file:// scheme relative to the root.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create blob root %s", root)
	}
	return &FilesystemStore{root: root}, nil
}

var _ Store = (*FilesystemStore)(nil)

func (s *FilesystemStore) Upload(_ context.Context, key, _ string, data []byte) (*Object, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", key)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, errors.Wrapf(err, "write %s", key)
	}
	return &Object{Key: key, URL: "file://" + key}, nil
}

func (s *FilesystemStore) Fetch(_ context.Context, url string) ([]byte, error) {
	key, ok := strings.CutPrefix(url, "file://")
	if !ok {
		return nil, errors.Errorf("not a file:// url: %s", url)
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", url)
	}
	return data, nil
}

// resolve joins key under root and rejects path traversal.
func (s *FilesystemStore) resolve(key string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", errors.Errorf("invalid blob key: %s", key)
	}
	return path, nil
}
