// Package browsertest provides a scripted in-memory Page and launcher for tests
// that exercise the state machines without Chrome.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

// ErrNoElement is returned when a locator matches nothing
var ErrNoElement = errors.New("element not found")

// Element is a scripted DOM node, addressed by its locator query
type Element struct {
	Visible bool
	// VisibleAfter makes the element appear once it has been checked this many times
	VisibleAfter int
	Text         string
	Texts        []string // TextAll result; defaults to []string{Text}
	Checked      bool
	Attrs        map[string]string
	Value        string
	// OnClick runs after a successful click, without the page lock held
	OnClick func(p *Page)
	// ClickErr fails every click on this element
	ClickErr error

	checks int
}

// Hook observes every page operation before it runs; tests use it to mutate state
type Hook func(p *Page, op string, loc models.Locator)

// Page is a scripted interfaces.Page
type Page struct {
	mu        sync.Mutex
	url       string
	html      string
	elements  map[string]*Element
	downloads map[string]string
	cookies   []models.Cookie

	// Popup, when set, is returned by OpenFrom instead of the page itself
	Popup *Page
	// OnReload runs after every Reload
	OnReload func(p *Page)
	// OnNavigate runs after every Navigate with the target URL
	OnNavigate func(p *Page, url string)
	// Hook runs before every locator-based operation
	Hook Hook
	// Fatal, when set, fails every operation with this error
	Fatal error

	calls       []string
	navigations []string
	reloads     int
	filled      map[string]string
	files       map[string][]string
	selected    map[string]string
	closed      bool
}

// NewPage returns an empty page at url
func NewPage(url string) *Page {
	return &Page{
		url:       url,
		elements:  make(map[string]*Element),
		downloads: make(map[string]string),
		filled:    make(map[string]string),
		files:     make(map[string][]string),
		selected:  make(map[string]string),
	}
}

// Set registers el under query, replacing any previous element
func (p *Page) Set(query string, el *Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el.Attrs == nil {
		el.Attrs = make(map[string]string)
	}
	p.elements[query] = el
	return p
}

// Remove deletes the element under query
func (p *Page) Remove(query string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, query)
}

// Element returns the element under query
func (p *Page) Element(query string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[query]
}

// SetAttr sets or, with has=false, removes an attribute
func (p *Page) SetAttr(query, name, value string, has bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[query]
	if !ok {
		return
	}
	if has {
		el.Attrs[name] = value
	} else {
		delete(el.Attrs, name)
	}
}

// SetHTML replaces the document returned by HTML
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// SetURL moves the page without recording a navigation
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// AddDownload makes clicking query produce a file with content
func (p *Page) AddDownload(query, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads[query] = content
}

// Calls returns "op:query" entries in call order
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Clicked reports how many clicks query received
func (p *Page) Clicked(query string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, call := range p.calls {
		if call == "click:"+query {
			n++
		}
	}
	return n
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Page) Filled(query string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[query]
}

func (p *Page) Files(query string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files[query]...)
}

func (p *Page) Selected(query string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected[query]
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// before records the call and runs the hook; it returns Fatal when set
func (p *Page) before(ctx context.Context, op string, loc models.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls = append(p.calls, op+":"+loc.Query)
	hook := p.Hook
	fatal := p.Fatal
	p.mu.Unlock()

	if fatal != nil {
		return fatal
	}
	if hook != nil {
		hook(p, op, loc)
	}
	return nil
}

// lookup returns the element and whether it is visible now. Caller holds mu.
func (p *Page) lookup(loc models.Locator) (*Element, bool) {
	el, ok := p.elements[loc.Query]
	if !ok {
		return nil, false
	}
	el.checks++
	if !el.Visible && el.VisibleAfter > 0 && el.checks >= el.VisibleAfter {
		el.Visible = true
	}
	return el, el.Visible
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.before(ctx, "navigate", models.Locator{Query: url}); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.navigations = append(p.navigations, url)
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.before(ctx, "reload", models.Locator{}); err != nil {
		return err
	}
	p.mu.Lock()
	p.reloads++
	hook := p.OnReload
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.before(ctx, "url", models.Locator{}); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.before(ctx, "html", models.Locator{}); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

// WaitVisible never blocks: a hidden element has already "timed out"
func (p *Page) WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	if err := p.before(ctx, "wait", loc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, visible := p.lookup(loc); !visible {
		return fmt.Errorf("wait visible %s after %s: %w", loc, timeout, ErrNoElement)
	}
	return nil
}

func (p *Page) Visible(ctx context.Context, loc models.Locator) (bool, error) {
	if err := p.before(ctx, "visible", loc); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, visible := p.lookup(loc)
	return visible, nil
}

func (p *Page) Click(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	if err := p.before(ctx, "click", loc); err != nil {
		return err
	}
	p.mu.Lock()
	el, visible := p.lookup(loc)
	if !visible {
		p.mu.Unlock()
		return fmt.Errorf("click %s: %w", loc, ErrNoElement)
	}
	if el.ClickErr != nil {
		p.mu.Unlock()
		return el.ClickErr
	}
	onClick := el.OnClick
	p.mu.Unlock()

	if onClick != nil {
		onClick(p)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, loc models.Locator, value string, timeout time.Duration) error {
	if err := p.before(ctx, "fill", loc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, visible := p.lookup(loc)
	if !visible {
		return fmt.Errorf("fill %s: %w", loc, ErrNoElement)
	}
	el.Value = value
	p.filled[loc.Query] = value
	return nil
}

func (p *Page) Checked(ctx context.Context, loc models.Locator) (bool, error) {
	if err := p.before(ctx, "checked", loc); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[loc.Query]
	if !ok {
		return false, fmt.Errorf("checked %s: %w", loc, ErrNoElement)
	}
	return el.Checked, nil
}

func (p *Page) SelectOption(ctx context.Context, loc models.Locator, value string) error {
	if err := p.before(ctx, "select", loc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[loc.Query]
	if !ok {
		return fmt.Errorf("select %s: %w", loc, ErrNoElement)
	}
	el.Value = value
	p.selected[loc.Query] = value
	return nil
}

func (p *Page) Text(ctx context.Context, loc models.Locator, timeout time.Duration) (string, error) {
	if err := p.before(ctx, "text", loc); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[loc.Query]
	if !ok {
		return "", fmt.Errorf("text %s: %w", loc, ErrNoElement)
	}
	return el.Text, nil
}

func (p *Page) TextAll(ctx context.Context, loc models.Locator) ([]string, error) {
	if err := p.before(ctx, "texts", loc); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[loc.Query]
	if !ok {
		return nil, nil
	}
	if el.Texts != nil {
		return append([]string(nil), el.Texts...), nil
	}
	return []string{el.Text}, nil
}

func (p *Page) Attribute(ctx context.Context, loc models.Locator, name string) (string, bool, error) {
	if err := p.before(ctx, "attr", loc); err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[loc.Query]
	if !ok {
		return "", false, fmt.Errorf("attribute %s: %w", loc, ErrNoElement)
	}
	value, has := el.Attrs[name]
	return value, has, nil
}

func (p *Page) SetFiles(ctx context.Context, loc models.Locator, paths ...string) error {
	if err := p.before(ctx, "files", loc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.elements[loc.Query]; !ok {
		return fmt.Errorf("set files %s: %w", loc, ErrNoElement)
	}
	p.files[loc.Query] = append([]string(nil), paths...)
	return nil
}

func (p *Page) OpenFrom(ctx context.Context, row models.Locator, index int, link models.Locator, timeout time.Duration) (interfaces.Page, error) {
	if err := p.before(ctx, "open", link); err != nil {
		return nil, err
	}
	p.mu.Lock()
	popup := p.Popup
	p.mu.Unlock()

	if popup != nil {
		return popup, nil
	}
	return p, nil
}

func (p *Page) Download(ctx context.Context, loc models.Locator, dest string, timeout time.Duration) error {
	if err := p.before(ctx, "download", loc); err != nil {
		return err
	}
	p.mu.Lock()
	content, ok := p.downloads[loc.Query]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("download %s: no file within %s", loc, timeout)
	}
	return os.WriteFile(dest, []byte(content), 0644)
}

func (p *Page) Cookies(ctx context.Context) ([]models.Cookie, error) {
	if err := p.before(ctx, "cookies", models.Locator{}); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Cookie(nil), p.cookies...), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	if err := p.before(ctx, "set_cookies", models.Locator{}); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append([]models.Cookie(nil), cookies...)
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
