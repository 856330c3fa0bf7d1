package uploaders

import "context"

// ProgressFunc receives upload progress as a fraction in [0, 1]. Adapters
// must report non-decreasing values.
type ProgressFunc func(fraction float64)

// UploadRequest describes a video to publish on one platform.
type UploadRequest struct {
	VideoPath   string
	Title       string
	Description string
	Tags        []string
	Privacy     string // public, private
}

// UploadResult carries platform-specific details about a finished upload.
type UploadResult struct {
	Platform string            `json:"platform"`
	URL      string            `json:"url,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// Uploader is the per-platform upload capability. Authenticate must be cheap
// enough to call before every dispatch; Upload owns the wire protocol and is
// expected to honor ctx cancellation between I/O chunks.
type Uploader interface {
	Platform() string
	DefaultEnabled() bool
	Authenticate(ctx context.Context) error
	Upload(ctx context.Context, req *UploadRequest, progress ProgressFunc) (*UploadResult, error)
}
