// Package blob stores uploaded attachment bytes and hands back stable URLs
// recorded on file rows.
package blob

import "context"

// Object is one stored attachment.
type Object struct {
	// Key is the storage path, unique per upload.
	Key string
	// URL is what gets persisted on the file row and later used to fetch the
	// bytes back.
	URL string
}

// Store uploads and fetches attachment bytes.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (*Object, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}
