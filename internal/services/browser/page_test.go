package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

func TestJSElements_QuotesQueries(t *testing.T) {
	css := jsElements(models.CSS(`input[name="q"]`))
	assert.Contains(t, css, `document.querySelectorAll("input[name=\"q\"]")`)

	xpath := jsElements(models.XPath(`//a[contains(text(),"Submit")]`))
	assert.Contains(t, xpath, `document.evaluate("//a[contains(text(),\"Submit\")]"`)
	assert.Contains(t, xpath, "ORDERED_NODE_SNAPSHOT_TYPE")
}

func TestCookieConversion_RoundTripsFields(t *testing.T) {
	expires := float64(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	in := []*network.Cookie{
		{Name: "session-id", Value: "abc", Domain: ".example.com", Path: "/", Expires: expires, HTTPOnly: true, Secure: true, SameSite: network.CookieSameSiteLax},
		{Name: "t", Value: "1", Domain: "example.com", Path: "/", Session: true, Expires: -1},
		nil,
	}

	cookies := fromNetworkCookies(in)
	require.Len(t, cookies, 2)
	assert.Equal(t, "session-id", cookies[0].Name)
	assert.Equal(t, expires, cookies[0].Expires)
	assert.Equal(t, "Lax", cookies[0].SameSite)
	assert.Zero(t, cookies[1].Expires, "session cookies carry no expiry")

	params := toCookieParams(cookies)
	require.Len(t, params, 2)
	require.NotNil(t, params[0].Expires)
	assert.Equal(t, int64(expires), params[0].Expires.Time().Unix())
	assert.Equal(t, network.CookieSameSiteLax, params[0].SameSite)
	assert.Nil(t, params[1].Expires)
}

// chromePath returns a usable Chrome binary or skips the test
func chromePath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	if path := os.Getenv("CHROME_PATH"); path != "" {
		return path
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

const fixturePage = `<!doctype html>
<html><body>
<form>
  <input id="email" type="text">
  <input id="agree" type="checkbox" checked>
  <select id="repo"><option value="0">none</option><option value="1">standard</option></select>
  <button id="go" type="button" disabled onclick="document.getElementById('out').innerText='clicked'">Go</button>
  <button id="hidden" style="display:none">Hidden</button>
</form>
<div id="out"></div>
<table>
  <tr class="row"><td><a class="open" href="/report?n=1" target="_blank">first</a></td></tr>
  <tr class="row"><td><a class="open" href="/report?n=2">second</a></td></tr>
</table>
<a id="file" href="/file.pdf" download>file</a>
</body></html>`

func fixtureServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, fixturePage)
	})
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1 id="title">report %s</h1></body></html>`, r.URL.Query().Get("n"))
	})
	mux.HandleFunc("/file.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="file.pdf"`)
		fmt.Fprint(w, "%PDF-1.4 fixture")
	})
	return httptest.NewServer(mux)
}

func launchFixture(t *testing.T) (interfaces.Browser, *httptest.Server) {
	t.Helper()
	execPath := chromePath(t)

	server := fixtureServer()
	t.Cleanup(server.Close)

	launcher := NewLauncher(arbor.NewLogger())
	b, err := launcher.Launch(context.Background(), interfaces.LaunchOptions{
		ExecPath:    execPath,
		Headless:    true,
		DownloadDir: t.TempDir(),
		Timeout:     30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Page().Navigate(context.Background(), server.URL))
	return b, server
}

func TestPage_DOMQueries(t *testing.T) {
	b, _ := launchFixture(t)
	ctx := context.Background()
	page := b.Page()

	visible, err := page.Visible(ctx, models.CSS("#email"))
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = page.Visible(ctx, models.CSS("#hidden"))
	require.NoError(t, err)
	assert.False(t, visible)

	checked, err := page.Checked(ctx, models.CSS("#agree"))
	require.NoError(t, err)
	assert.True(t, checked)

	_, has, err := page.Attribute(ctx, models.CSS("#go"), "disabled")
	require.NoError(t, err)
	assert.True(t, has)

	texts, err := page.TextAll(ctx, models.XPath(`//a[@class="open"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, texts)

	require.NoError(t, page.Fill(ctx, models.CSS("#email"), "bot@example.com", 5*time.Second))
	require.NoError(t, page.SelectOption(ctx, models.CSS("#repo"), "1"))

	err = page.WaitVisible(ctx, models.CSS("#missing"), 500*time.Millisecond)
	assert.Error(t, err)
}

func TestPage_OpenFromPopupAndInPlace(t *testing.T) {
	b, server := launchFixture(t)
	ctx := context.Background()
	page := b.Page()

	popup, err := page.OpenFrom(ctx, models.CSS("tr.row"), 0, models.CSS("a.open"), 10*time.Second)
	require.NoError(t, err)
	assert.NotSame(t, page, popup)

	text, err := popup.Text(ctx, models.CSS("#title"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "report 1", text)
	require.NoError(t, popup.Close())

	same, err := page.OpenFrom(ctx, models.CSS("tr.row"), 1, models.CSS("a.open"), 10*time.Second)
	require.NoError(t, err)
	assert.Same(t, page, same)

	url, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/report?n=2", url)
}

func TestPage_Download(t *testing.T) {
	b, _ := launchFixture(t)
	dest := filepath.Join(t.TempDir(), "1_20250101_000000_similarity.pdf")

	require.NoError(t, b.Page().Download(context.Background(), models.CSS("#file"), dest, 20*time.Second))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fixture", string(data))
}
