package uploaders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"socialqueue/internal/credentials"
)

const uploadPostEndpoint = "https://api.upload-post.com/api/upload"

// InstagramUploader publishes Reels through the upload-post.com API.
type InstagramUploader struct {
	creds      *credentials.Store
	httpClient *http.Client
}

// NewInstagramUploader creates an Instagram adapter.
func NewInstagramUploader(creds *credentials.Store) *InstagramUploader {
	return &InstagramUploader{
		creds:      creds,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

// Platform returns the platform name.
func (i *InstagramUploader) Platform() string { return "instagram" }

// DefaultEnabled reports that Instagram must be opted into per job.
func (i *InstagramUploader) DefaultEnabled() bool { return false }

// Authenticate checks that API material is present and marked valid.
func (i *InstagramUploader) Authenticate(ctx context.Context) error {
	if !i.creds.Authenticated("instagram") {
		return fmt.Errorf("%w: instagram credentials missing", ErrAuthentication)
	}
	if i.creds.Value("instagram", "api_key") == "" || i.creds.Value("instagram", "username") == "" {
		return fmt.Errorf("%w: instagram api_key and username required", ErrAuthentication)
	}
	return nil
}

// Upload uploads a video as a Reel.
func (i *InstagramUploader) Upload(ctx context.Context, req *UploadRequest, progress ProgressFunc) (*UploadResult, error) {
	if err := i.Authenticate(ctx); err != nil {
		return nil, err
	}
	apiKey := i.creds.Value("instagram", "api_key")
	username := i.creds.Value("instagram", "username")

	videoFile, err := os.Open(req.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}
	defer videoFile.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("video", "video.mp4")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, videoFile); err != nil {
		return nil, fmt.Errorf("copy video data: %w", err)
	}

	_ = writer.WriteField("user", username)
	_ = writer.WriteField("title", req.Title)
	_ = writer.WriteField("platform[]", "instagram")
	_ = writer.WriteField("media_type", "REELS")
	_ = writer.WriteField("share_to_feed", "true")
	if req.Description != "" {
		_ = writer.WriteField("description", req.Description)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	total := int64(body.Len())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadPostEndpoint,
		newCountingReader(body, total, progress))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.ContentLength = total
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", fmt.Sprintf("Apikey %s", apiKey))

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("instagram request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: upload-post rejected key", ErrAuthentication)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = string(respBody)
			if len(msg) > 200 {
				msg = msg[:200]
			}
		}
		return nil, fmt.Errorf("instagram upload failed: %s", msg)
	}

	return &UploadResult{
		Platform: "instagram",
		Details: map[string]string{
			"message": "video accepted for async publication",
			"user":    username,
		},
	}, nil
}
