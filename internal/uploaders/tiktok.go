package uploaders

import (
	"context"
	"fmt"
)

// TikTokUploader is registered so callers get a uniform error for a platform
// that is not integrated yet, rather than a silent no-op.
type TikTokUploader struct{}

// NewTikTokUploader creates the placeholder TikTok adapter.
func NewTikTokUploader() *TikTokUploader { return &TikTokUploader{} }

// Platform returns the platform name.
func (t *TikTokUploader) Platform() string { return "tiktok" }

// DefaultEnabled reports that TikTok is never targeted by default.
func (t *TikTokUploader) DefaultEnabled() bool { return false }

// Authenticate always fails fast.
func (t *TikTokUploader) Authenticate(ctx context.Context) error {
	return fmt.Errorf("%w: tiktok", ErrUnsupported)
}

// Upload always fails fast.
func (t *TikTokUploader) Upload(ctx context.Context, req *UploadRequest, progress ProgressFunc) (*UploadResult, error) {
	return nil, fmt.Errorf("%w: tiktok", ErrUnsupported)
}
