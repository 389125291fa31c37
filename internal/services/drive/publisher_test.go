package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func TestPublish_UploadsAndShares(t *testing.T) {
	var mu sync.Mutex
	var permissions []map[string]string
	uploads := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files/abc123/permissions"):
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			permissions = append(permissions, body)
			_, _ = w.Write([]byte(`{"id":"anyoneWithLink"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
			uploads++
			_, _ = w.Write([]byte(`{"id":"abc123","webViewLink":"https://drive.google.com/file/d/abc123/view"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "1001_20250307_141500_similarity.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0644))

	publisher, err := NewPublisherWithClient(context.Background(), server.Client(), "", arbor.NewLogger(),
		option.WithEndpoint(server.URL+"/drive/v3/"))
	require.NoError(t, err)

	link, err := publisher.Publish(context.Background(), path, "Similarity_Report_1001.pdf")
	require.NoError(t, err)

	assert.Equal(t, "Similarity_Report_1001.pdf", link.Name)
	assert.Equal(t, "https://drive.google.com/file/d/abc123/view", link.ViewURL)
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=abc123", link.DownloadURL)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, uploads)
	require.Len(t, permissions, 1)
	assert.Equal(t, "anyone", permissions[0]["type"])
	assert.Equal(t, "reader", permissions[0]["role"])
}

func TestPublish_MissingFile(t *testing.T) {
	publisher, err := NewPublisherWithClient(context.Background(), http.DefaultClient, "", arbor.NewLogger(),
		option.WithEndpoint("http://127.0.0.1:1/drive/v3/"))
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"), "")
	assert.Error(t, err)
}

func TestNewPublisher_RequiresToken(t *testing.T) {
	dir := t.TempDir()
	credentials := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(credentials, []byte(`{"installed":{"client_id":"id","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`), 0600))

	_, err := NewPublisher(context.Background(), common.DriveConfig{
		Enabled:         true,
		CredentialsFile: credentials,
		TokenFile:       filepath.Join(dir, "token.json"),
	}, arbor.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drive token unavailable")
}

type staticSource struct{ token *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.token, nil }

func TestSavingTokenSource_PersistsRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	old := &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)}
	fresh := &oauth2.Token{AccessToken: "fresh", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)}

	source := &savingTokenSource{base: staticSource{fresh}, path: path, last: old, logger: arbor.NewLogger()}
	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", token.AccessToken)

	saved, err := loadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh", saved.RefreshToken)
}
