package uploaders

import (
	"fmt"
	"sort"

	"socialqueue/internal"
	"socialqueue/internal/credentials"
)

// Manager is the adapter registry. Every known platform is registered even
// when it cannot upload yet; adapters report their own readiness through
// Authenticate and Upload.
type Manager struct {
	uploaders map[string]Uploader
}

// NewManager builds the registry with all built-in platform adapters.
func NewManager(creds *credentials.Store, cfg internal.Config) *Manager {
	m := &Manager{uploaders: make(map[string]Uploader)}
	m.Register(NewYouTubeUploader(creds, cfg.YouTubeClientSecrets, cfg.YouTubeTokenPath))
	m.Register(NewInstagramUploader(creds))
	m.Register(NewTikTokUploader())
	m.Register(NewXUploader(creds))
	return m
}

// NewEmptyManager returns a registry with no adapters, for callers that
// register their own.
func NewEmptyManager() *Manager {
	return &Manager{uploaders: make(map[string]Uploader)}
}

// Register adds or replaces the adapter for its platform.
func (m *Manager) Register(u Uploader) {
	m.uploaders[u.Platform()] = u
}

// Get returns the adapter for the named platform.
func (m *Manager) Get(platform string) (Uploader, error) {
	u, ok := m.uploaders[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return u, nil
}

// Platforms lists the registered platform names in stable order.
func (m *Manager) Platforms() []string {
	platforms := make([]string, 0, len(m.uploaders))
	for platform := range m.uploaders {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}

// Defaults lists the platforms newly added jobs target by default.
func (m *Manager) Defaults() []string {
	var defaults []string
	for _, platform := range m.Platforms() {
		if m.uploaders[platform].DefaultEnabled() {
			defaults = append(defaults, platform)
		}
	}
	return defaults
}
