package locators

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/models"
)

func TestDefaultCatalogCoversPipelineActions(t *testing.T) {
	catalog := Default()
	require.NoError(t, catalog.Require(
		"login.email", "login.password", "login.submit",
		"submit.open_form", "submit.proceed", "submit.file_input", "submit.upload", "submit.confirm",
		"inbox.row", "inbox.row_title", "inbox.row_score",
		"report.download_button", "report.similarity_item", "report.ai_item",
	))

	email := catalog.Candidates("login.email")
	require.NotEmpty(t, email)
	assert.Equal(t, models.ByCSS, email[0].By)
	assert.Equal(t, `input[name="email"]`, email[0].Query)

	upload := catalog.Candidates("submit.upload")
	assert.Equal(t, models.ByXPath, upload[len(upload)-1].By)
}

func TestLoadOverridesReplaceWholeAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locators.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
login.email:
  - 'input#login-email'
  - {by: xpath, query: '//input[@autocomplete="username"]'}
`), 0644))

	catalog, err := Load(path)
	require.NoError(t, err)

	email := catalog.Candidates("login.email")
	require.Len(t, email, 2)
	assert.Equal(t, "input#login-email", email[0].Query)
	assert.Equal(t, models.ByXPath, email[1].By)

	// Untouched actions keep defaults
	assert.NotEmpty(t, catalog.Candidates("submit.confirm"))
}

func TestParseRejectsEmptyQuery(t *testing.T) {
	_, err := Parse([]byte(`login.email: [{by: css, query: ""}]`))
	assert.Error(t, err)

	_, err = Parse([]byte(`login.email: [{by: regex, query: "x"}]`))
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	catalog := Default()
	candidates := catalog.Expand("submit.source_checkbox", map[string]string{"value": "14,32,36,917"})
	require.Len(t, candidates, 1)
	assert.Equal(t, `input[name="compare_to_database"][value="14,32,36,917"]`, candidates[0].Query)

	// The catalog itself is untouched
	assert.Contains(t, catalog.Candidates("submit.source_checkbox")[0].Query, "{value}")
}

func TestFirstMatch(t *testing.T) {
	candidates := []models.Locator{models.CSS("#a"), models.CSS("#b"), models.CSS("#c")}
	var tried []string

	loc, err := FirstMatch(context.Background(), "test.click", candidates, func(ctx context.Context, loc models.Locator) error {
		tried = append(tried, loc.Query)
		if loc.Query == "#b" {
			return nil
		}
		return errors.New("not found")
	})

	require.NoError(t, err)
	assert.Equal(t, "#b", loc.Query)
	assert.Equal(t, []string{"#a", "#b"}, tried)
}

func TestFirstMatch_AllMiss(t *testing.T) {
	candidates := []models.Locator{models.CSS("#a"), models.CSS("#b")}

	_, err := FirstMatch(context.Background(), "test.click", candidates, func(ctx context.Context, loc models.Locator) error {
		return errors.New("not found")
	})

	require.Error(t, err)
	assert.Equal(t, faults.KindUIDrift, faults.KindOf(err))
}

func TestFirstMatch_SessionFatalStops(t *testing.T) {
	candidates := []models.Locator{models.CSS("#a"), models.CSS("#b")}
	calls := 0

	_, err := FirstMatch(context.Background(), "test.click", candidates, func(ctx context.Context, loc models.Locator) error {
		calls++
		return faults.SessionFatal("browser", "target closed", nil)
	})

	assert.True(t, faults.IsSessionFatal(err))
	assert.Equal(t, 1, calls)
}
