package credentials

import (
	"context"
	"fmt"

	"socialqueue/internal/s3"
)

// Mirror keeps a copy of the credentials file in an object store so a fresh
// host can pick up where another left off.
type Mirror struct {
	client s3.Client
	key    string
}

// NewMirror wraps an S3 client with the object key used for the credentials
// snapshot.
func NewMirror(client s3.Client, key string) *Mirror {
	return &Mirror{client: client, key: key}
}

// Pull replaces the store contents with the mirrored snapshot when one
// exists. A missing snapshot leaves the store untouched.
func (m *Mirror) Pull(ctx context.Context, store *Store) (bool, error) {
	var file fileFormat
	found, err := m.client.ReadJSON(ctx, m.key, &file)
	if err != nil {
		return false, fmt.Errorf("pull credentials mirror: %w", err)
	}
	if !found {
		return false, nil
	}
	store.replace(file)
	return true, nil
}

// Push uploads the current store contents.
func (m *Mirror) Push(ctx context.Context, store *Store) error {
	if err := m.client.WriteJSON(ctx, m.key, store); err != nil {
		return fmt.Errorf("push credentials mirror: %w", err)
	}
	return nil
}
