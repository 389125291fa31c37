// Package drive publishes report files to Google Drive and returns public share links.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const downloadURLFormat = "https://drive.google.com/uc?export=download&id=%s"

// Publisher uploads files and grants anyone-with-the-link read access
type Publisher struct {
	service  *drive.Service
	folderID string
	logger   arbor.ILogger
}

// NewPublisher authorizes with the OAuth client credentials and a previously saved token.
// Refreshed tokens are written back to the token file.
func NewPublisher(ctx context.Context, cfg common.DriveConfig, logger arbor.ILogger) (*Publisher, error) {
	credentials, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read drive credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(credentials, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse drive credentials: %w", err)
	}

	token, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("drive token unavailable, authorize once and save it to %s: %w", cfg.TokenFile, err)
	}

	source := &savingTokenSource{
		base:   config.TokenSource(ctx, token),
		path:   cfg.TokenFile,
		last:   token,
		logger: logger,
	}
	client := oauth2.NewClient(ctx, source)

	return NewPublisherWithClient(ctx, client, cfg.FolderID, logger)
}

// NewPublisherWithClient builds a Publisher on an already authorized client.
// Extra options are passed to the Drive client, e.g. an endpoint override.
func NewPublisherWithClient(ctx context.Context, client *http.Client, folderID string, logger arbor.ILogger, opts ...option.ClientOption) (*Publisher, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	return &Publisher{service: service, folderID: folderID, logger: logger}, nil
}

// Publish uploads path as name and makes it readable by anyone with the link
func (p *Publisher) Publish(ctx context.Context, path, name string) (*models.ShareLink, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	if name == "" {
		name = filepath.Base(path)
	}
	metadata := &drive.File{Name: name, MimeType: "application/pdf"}
	if p.folderID != "" {
		metadata.Parents = []string{p.folderID}
	}

	created, err := p.service.Files.Create(metadata).
		Media(file, googleapi.ContentType("application/pdf")).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	_, err = p.service.Permissions.Create(created.Id, &drive.Permission{Type: "anyone", Role: "reader"}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to share %s: %w", name, err)
	}

	p.logger.Info().Str("file_id", created.Id).Str("name", name).Msg("Report published to Drive")

	return &models.ShareLink{
		Name:        name,
		ViewURL:     created.WebViewLink,
		DownloadURL: fmt.Sprintf(downloadURLFormat, created.Id),
	}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// savingTokenSource persists the token whenever the underlying source refreshes it
type savingTokenSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	path   string
	last   *oauth2.Token
	logger arbor.ILogger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || token.AccessToken != s.last.AccessToken {
		if err := saveToken(s.path, token); err != nil {
			s.logger.Warn().Str("path", s.path).Err(err).Msg("Failed to save refreshed drive token")
		}
		s.last = token
	}
	return token, nil
}
