package uploaders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/tidwall/gjson"

	"socialqueue/internal/credentials"
)

const xChunkSize = 5 * 1024 * 1024

// XUploader publishes videos through the X API v2 chunked media upload.
type XUploader struct {
	creds *credentials.Store
}

// NewXUploader creates an X adapter.
func NewXUploader(creds *credentials.Store) *XUploader {
	return &XUploader{creds: creds}
}

// Platform returns the platform name.
func (x *XUploader) Platform() string { return "x" }

// DefaultEnabled reports that X must be opted into per job.
func (x *XUploader) DefaultEnabled() bool { return false }

func (x *XUploader) keys() (consumerKey, consumerSecret, accessToken, accessTokenSecret string) {
	return x.creds.Value("x", "consumer_key"),
		x.creds.Value("x", "consumer_secret"),
		x.creds.Value("x", "access_token"),
		x.creds.Value("x", "access_token_secret")
}

// Authenticate checks that the OAuth 1.0a key set is present and marked valid.
func (x *XUploader) Authenticate(ctx context.Context) error {
	if !x.creds.Authenticated("x") {
		return fmt.Errorf("%w: x credentials missing", ErrAuthentication)
	}
	ck, cs, at, ats := x.keys()
	if ck == "" || cs == "" || at == "" || ats == "" {
		return fmt.Errorf("%w: x oauth key set incomplete", ErrAuthentication)
	}
	return nil
}

func (x *XUploader) client(ctx context.Context) *http.Client {
	ck, cs, at, ats := x.keys()
	config := oauth1.NewConfig(ck, cs)
	token := oauth1.NewToken(at, ats)
	return config.Client(ctx, token)
}

// Upload runs the INIT/APPEND/FINALIZE media flow and then creates the post.
// The chunk loop reports transfer progress and aborts between chunks when
// the context is cancelled.
func (x *XUploader) Upload(ctx context.Context, req *UploadRequest, progress ProgressFunc) (*UploadResult, error) {
	if err := x.Authenticate(ctx); err != nil {
		return nil, err
	}
	client := x.client(ctx)

	mediaID, err := x.uploadMedia(ctx, client, req.VideoPath, progress)
	if err != nil {
		return nil, err
	}

	postBody := map[string]any{
		"text": req.Title,
		"media": map[string]any{
			"media_ids": []string{mediaID},
		},
	}
	postJSON, _ := json.Marshal(postBody)

	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.x.com/2/tweets", bytes.NewBuffer(postJSON))
	if err != nil {
		return nil, fmt.Errorf("create post request: %w", err)
	}
	postReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(postReq)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: x rejected credentials", ErrAuthentication)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("post creation failed with status %d: %s", resp.StatusCode, truncate(respBody))
	}

	postID := gjson.GetBytes(respBody, "data.id").String()
	return &UploadResult{
		Platform: "x",
		URL:      fmt.Sprintf("https://x.com/i/status/%s", postID),
		Details: map[string]string{
			"post_id":  postID,
			"media_id": mediaID,
		},
	}, nil
}

func (x *XUploader) uploadMedia(ctx context.Context, client *http.Client, videoPath string, progress ProgressFunc) (string, error) {
	fileData, err := os.ReadFile(videoPath)
	if err != nil {
		return "", fmt.Errorf("read video file: %w", err)
	}

	initBody, _ := json.Marshal(map[string]any{
		"media_type":     "video/mp4",
		"total_bytes":    len(fileData),
		"media_category": "tweet_video",
	})
	initReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.x.com/2/media/upload/initialize", bytes.NewBuffer(initBody))
	if err != nil {
		return "", fmt.Errorf("create INIT request: %w", err)
	}
	initReq.Header.Set("Content-Type", "application/json")

	initResp, err := client.Do(initReq)
	if err != nil {
		return "", fmt.Errorf("initialize media upload: %w", err)
	}
	initBytes, _ := io.ReadAll(initResp.Body)
	initResp.Body.Close()
	if initResp.StatusCode == http.StatusUnauthorized || initResp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: x rejected credentials", ErrAuthentication)
	}
	if initResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("INIT failed with status %d: %s", initResp.StatusCode, truncate(initBytes))
	}
	mediaID := gjson.GetBytes(initBytes, "data.id").String()
	if mediaID == "" {
		return "", fmt.Errorf("INIT response missing media id")
	}

	for offset := 0; offset < len(fileData); offset += xChunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := offset + xChunkSize
		if end > len(fileData) {
			end = len(fileData)
		}

		var appendBody bytes.Buffer
		writer := multipart.NewWriter(&appendBody)
		_ = writer.WriteField("segment_index", strconv.Itoa(offset/xChunkSize))
		part, _ := writer.CreateFormFile("media", "video.mp4")
		_, _ = part.Write(fileData[offset:end])
		_ = writer.Close()

		appendURL := fmt.Sprintf("https://api.x.com/2/media/upload/%s/append", mediaID)
		appendReq, err := http.NewRequestWithContext(ctx, http.MethodPost, appendURL, &appendBody)
		if err != nil {
			return "", fmt.Errorf("create APPEND request: %w", err)
		}
		appendReq.Header.Set("Content-Type", writer.FormDataContentType())

		appendResp, err := client.Do(appendReq)
		if err != nil {
			return "", fmt.Errorf("append media chunk: %w", err)
		}
		if appendResp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(appendResp.Body)
			appendResp.Body.Close()
			return "", fmt.Errorf("APPEND failed with status %d: %s", appendResp.StatusCode, truncate(body))
		}
		appendResp.Body.Close()

		if progress != nil {
			progress(float64(end) / float64(len(fileData)))
		}
	}

	finalizeURL := fmt.Sprintf("https://api.x.com/2/media/upload/%s/finalize", mediaID)
	finalizeReq, err := http.NewRequestWithContext(ctx, http.MethodPost, finalizeURL, nil)
	if err != nil {
		return "", fmt.Errorf("create FINALIZE request: %w", err)
	}
	finalizeResp, err := client.Do(finalizeReq)
	if err != nil {
		return "", fmt.Errorf("finalize media upload: %w", err)
	}
	finalizeBytes, _ := io.ReadAll(finalizeResp.Body)
	finalizeResp.Body.Close()
	if finalizeResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("FINALIZE failed with status %d: %s", finalizeResp.StatusCode, truncate(finalizeBytes))
	}

	if err := x.awaitProcessing(ctx, client, mediaID, gjson.GetBytes(finalizeBytes, "data.processing_info")); err != nil {
		return "", err
	}
	return mediaID, nil
}

// awaitProcessing polls the media status endpoint until X finishes server-side
// processing of the uploaded video.
func (x *XUploader) awaitProcessing(ctx context.Context, client *http.Client, mediaID string, info gjson.Result) error {
	for attempt := 0; info.Exists() && attempt < 60; attempt++ {
		state := info.Get("state").String()
		if state == "succeeded" {
			return nil
		}
		if state == "failed" {
			return fmt.Errorf("media processing failed")
		}

		checkAfter := info.Get("check_after_secs").Int()
		if checkAfter == 0 {
			checkAfter = 1
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(checkAfter) * time.Second):
		}

		statusURL := fmt.Sprintf("https://api.x.com/2/media/upload?command=STATUS&media_id=%s", mediaID)
		statusReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return fmt.Errorf("create STATUS request: %w", err)
		}
		statusResp, err := client.Do(statusReq)
		if err != nil {
			return fmt.Errorf("check media status: %w", err)
		}
		statusBytes, _ := io.ReadAll(statusResp.Body)
		statusResp.Body.Close()
		if statusResp.StatusCode != http.StatusOK {
			return fmt.Errorf("STATUS check failed with status %d: %s", statusResp.StatusCode, truncate(statusBytes))
		}
		info = gjson.GetBytes(statusBytes, "data.processing_info")
	}
	return nil
}

func truncate(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
