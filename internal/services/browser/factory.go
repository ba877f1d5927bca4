package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/services/llm"
)

// Factory opens one browser session per extraction run, already on startURL
type Factory struct {
	config    *common.BrowserConfig
	startURL  string
	generator llm.Generator
	model     string
	logger    arbor.ILogger
}

var _ interfaces.ProviderFactory = (*Factory)(nil)

func NewFactory(config *common.BrowserConfig, startURL string, generator llm.Generator, model string, logger arbor.ILogger) *Factory {
	return &Factory{
		config:    config,
		startURL:  startURL,
		generator: generator,
		model:     model,
		logger:    logger,
	}
}

func (f *Factory) Open(ctx context.Context, userEmail string) (interfaces.SessionProvider, error) {
	session, err := NewSession(ctx, f.config, f.ProfileDir(userEmail), f.logger)
	if err != nil {
		return nil, err
	}

	if err := session.Navigate(ctx, f.startURL); err != nil {
		session.Close()
		return nil, err
	}

	f.logger.Info().
		Str("user_email", userEmail).
		Str("session_id", session.TargetID()).
		Str("url", f.startURL).
		Msg("Opened browser session")

	return NewProvider(session, f.generator, f.model, baseURL(f.startURL), f.config.MaxHTMLBytes, f.logger), nil
}

// ProfileDir is the per-user Chrome profile so a completed login persists between runs.
// Empty when no user data dir is configured or a remote browser is used.
func (f *Factory) ProfileDir(userEmail string) string {
	if f.config.UserDataDir == "" || f.config.RemoteURL != "" {
		return ""
	}
	return filepath.Join(f.config.UserDataDir, profileName(userEmail))
}

// profileName keeps a readable prefix and appends a digest of the email,
// since the prefix alone maps distinct addresses to the same name.
func profileName(userEmail string) string {
	email := strings.ToLower(strings.TrimSpace(userEmail))
	sum := sha256.Sum256([]byte(email))

	var b strings.Builder
	for _, r := range email {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	b.WriteByte('-')
	b.WriteString(hex.EncodeToString(sum[:12]))
	return b.String()
}

func baseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
