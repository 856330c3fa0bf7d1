package uploaders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"socialqueue/internal/credentials"
)

const youtubeCategoryEntertainment = "24"

// YouTubeUploader publishes videos through the YouTube Data API.
type YouTubeUploader struct {
	creds           *credentials.Store
	credentialsPath string
	tokenPath       string
}

// NewYouTubeUploader creates a YouTube adapter. The client secrets and token
// paths may be overridden per-platform in the credentials store.
func NewYouTubeUploader(creds *credentials.Store, credentialsPath, tokenPath string) *YouTubeUploader {
	return &YouTubeUploader{
		creds:           creds,
		credentialsPath: credentialsPath,
		tokenPath:       tokenPath,
	}
}

// Platform returns the platform name.
func (y *YouTubeUploader) Platform() string { return "youtube" }

// DefaultEnabled reports that new jobs target YouTube by default.
func (y *YouTubeUploader) DefaultEnabled() bool { return true }

// Authenticate verifies that a usable OAuth token is on hand.
func (y *YouTubeUploader) Authenticate(ctx context.Context) error {
	_, err := y.service(ctx)
	return err
}

// Upload uploads a video and reports transfer progress.
func (y *YouTubeUploader) Upload(ctx context.Context, req *UploadRequest, progress ProgressFunc) (*UploadResult, error) {
	service, err := y.service(ctx)
	if err != nil {
		return nil, err
	}

	videoFile, err := os.Open(req.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}
	defer videoFile.Close()

	info, err := videoFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat video file: %w", err)
	}

	privacy := req.Privacy
	if privacy == "" {
		privacy = "public"
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        req.Tags,
			CategoryId:  youtubeCategoryEntertainment,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video).
		ResumableMedia(ctx, videoFile, info.Size(), "video/*")
	if progress != nil {
		total := info.Size()
		call = call.ProgressUpdater(func(current, _ int64) {
			if total > 0 {
				progress(float64(current) / float64(total))
			}
		})
	}

	inserted, err := call.Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && (apiErr.Code == 401 || apiErr.Code == 403) {
			return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return nil, fmt.Errorf("youtube upload: %w", err)
	}

	return &UploadResult{
		Platform: "youtube",
		URL:      fmt.Sprintf("https://youtu.be/%s", inserted.Id),
		Details: map[string]string{
			"video_id": inserted.Id,
			"title":    req.Title,
		},
	}, nil
}

func (y *YouTubeUploader) service(ctx context.Context) (*youtube.Service, error) {
	secretsPath := y.credentialsPath
	if v := y.creds.Value("youtube", "client_secrets"); v != "" {
		secretsPath = v
	}
	tokenPath := y.tokenPath
	if v := y.creds.Value("youtube", "token"); v != "" {
		tokenPath = v
	}

	credBytes, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read client secrets: %v", ErrAuthentication, err)
	}

	config, err := google.ConfigFromJSON(credBytes, youtube.YoutubeUploadScope, youtube.YoutubeScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse client secrets: %v", ErrAuthentication, err)
	}

	token, err := loadToken(tokenPath)
	if err != nil || token == nil || !token.Valid() {
		return nil, fmt.Errorf("%w: token missing or expired", ErrAuthentication)
	}

	client := config.Client(ctx, token)
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return service, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}
