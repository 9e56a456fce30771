package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSStore keeps attachments in a Google Cloud Storage bucket under gs://
// URLs.
type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

var _ Store = (*GCSStore)(nil)

func (s *GCSStore) Upload(ctx context.Context, key, contentType string, data []byte) (*Object, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "write gs://%s/%s", s.bucket, key)
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrapf(err, "close gs://%s/%s", s.bucket, key)
	}
	return &Object{
		Key: key,
		URL: fmt.Sprintf("gs://%s/%s", s.bucket, key),
	}, nil
}

func (s *GCSStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := parseGSURL(url)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", url)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", url)
	}
	return data, nil
}

func parseGSURL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, "gs://")
	if !ok {
		return "", "", errors.Errorf("not a gs:// url: %s", url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.Errorf("malformed gs:// url: %s", url)
	}
	return bucket, key, nil
}
