package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

const (
	defaultWait = 15 * time.Second
	popupWait   = 5 * time.Second
)

// Page is a chromedp tab. Popups get their own Page sharing the parent Browser.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc // set for popups only
	browser *Browser
}

func queryBy(loc models.Locator) chromedp.QueryOption {
	if loc.By == models.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// run executes actions bounded by timeout and by the caller's ctx
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = defaultWait
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// classify marks errors caused by a dead browser or tab as session-fatal
func (p *Page) classify(op string, subject string, err error) error {
	if err == nil {
		return nil
	}
	if p.browser.ctx.Err() != nil || p.ctx.Err() != nil ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidTarget) {
		return faults.SessionFatal(op, "browser unusable", err)
	}
	if subject == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s: %w", op, subject, err)
}

func (p *Page) evaluate(ctx context.Context, op string, loc models.Locator, expr string, out interface{}) error {
	return p.classify(op, loc.String(), p.run(ctx, defaultWait, chromedp.Evaluate(expr, out)))
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.classify("navigate", url, p.run(ctx, 60*time.Second, chromedp.Navigate(url)))
}

func (p *Page) Reload(ctx context.Context) error {
	return p.classify("reload", "", p.run(ctx, 60*time.Second, chromedp.Reload()))
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, defaultWait, chromedp.Location(&url))
	return url, p.classify("url", "", err)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, defaultWait, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, p.classify("html", "", err)
}

func (p *Page) WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return p.classify("wait visible", loc.String(), p.run(ctx, timeout, chromedp.WaitVisible(loc.Query, queryBy(loc))))
}

func (p *Page) Visible(ctx context.Context, loc models.Locator) (bool, error) {
	var visible bool
	err := p.evaluate(ctx, "visible", loc, jsVisible(loc), &visible)
	return visible, err
}

func (p *Page) Click(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	by := queryBy(loc)
	return p.classify("click", loc.String(), p.run(ctx, timeout,
		chromedp.WaitVisible(loc.Query, by),
		chromedp.Click(loc.Query, by, chromedp.NodeVisible),
	))
}

func (p *Page) Fill(ctx context.Context, loc models.Locator, value string, timeout time.Duration) error {
	by := queryBy(loc)
	return p.classify("fill", loc.String(), p.run(ctx, timeout,
		chromedp.WaitVisible(loc.Query, by),
		chromedp.Clear(loc.Query, by),
		chromedp.SendKeys(loc.Query, value, by),
	))
}

func (p *Page) Checked(ctx context.Context, loc models.Locator) (bool, error) {
	var result jsFlag
	if err := p.evaluate(ctx, "checked", loc, jsChecked(loc), &result); err != nil {
		return false, err
	}
	if !result.Found {
		return false, fmt.Errorf("checked %s: element not found", loc)
	}
	return result.Value, nil
}

func (p *Page) SelectOption(ctx context.Context, loc models.Locator, value string) error {
	var ok bool
	if err := p.evaluate(ctx, "select", loc, jsSelect(loc, value), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("select %s: element not found", loc)
	}
	return nil
}

func (p *Page) Text(ctx context.Context, loc models.Locator, timeout time.Duration) (string, error) {
	var text string
	by := queryBy(loc)
	err := p.run(ctx, timeout,
		chromedp.WaitReady(loc.Query, by),
		chromedp.Text(loc.Query, &text, by),
	)
	return text, p.classify("text", loc.String(), err)
}

func (p *Page) TextAll(ctx context.Context, loc models.Locator) ([]string, error) {
	var texts []string
	err := p.evaluate(ctx, "text all", loc, jsTexts(loc), &texts)
	return texts, err
}

func (p *Page) Attribute(ctx context.Context, loc models.Locator, name string) (string, bool, error) {
	var result jsAttr
	if err := p.evaluate(ctx, "attribute", loc, jsAttribute(loc, name), &result); err != nil {
		return "", false, err
	}
	if !result.Found {
		return "", false, fmt.Errorf("attribute %s: element not found", loc)
	}
	return result.Value, result.Has, nil
}

func (p *Page) SetFiles(ctx context.Context, loc models.Locator, paths ...string) error {
	by := queryBy(loc)
	return p.classify("set files", loc.String(), p.run(ctx, defaultWait,
		chromedp.WaitReady(loc.Query, by),
		chromedp.SetUploadFiles(loc.Query, paths, by),
	))
}

// OpenFrom clicks a link inside a row. Row links must be CSS so the click can be scoped to the row node.
func (p *Page) OpenFrom(ctx context.Context, row models.Locator, index int, link models.Locator, timeout time.Duration) (interfaces.Page, error) {
	if link.By == models.ByXPath {
		return nil, fmt.Errorf("open from %s: row link locators must be CSS", link)
	}

	rowBy := chromedp.ByQueryAll
	if row.By == models.ByXPath {
		rowBy = chromedp.BySearch
	}
	var rows []*cdp.Node
	if err := p.run(ctx, timeout, chromedp.Nodes(row.Query, &rows, rowBy, chromedp.AtLeast(0))); err != nil {
		return nil, p.classify("open from", row.String(), err)
	}
	if index < 0 || index >= len(rows) {
		return nil, fmt.Errorf("open from %s: row %d not present (%d rows)", row, index, len(rows))
	}

	opener := chromedp.FromContext(p.ctx).Target.TargetID
	newTarget := chromedp.WaitNewTarget(p.ctx, func(info *target.Info) bool {
		return info.OpenerID == opener && info.Type == "page"
	})

	if err := p.run(ctx, timeout, chromedp.Click(link.Query, chromedp.ByQuery, chromedp.FromNode(rows[index]))); err != nil {
		return nil, p.classify("open from", link.String(), err)
	}

	select {
	case id := <-newTarget:
		popupCtx, popupCancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
		popup := &Page{ctx: popupCtx, cancel: popupCancel, browser: p.browser}
		if err := popup.run(ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			popupCancel()
			return nil, popup.classify("open popup", "", err)
		}
		return popup, nil
	case <-time.After(popupWait):
		// No popup; the click navigated this tab
		if err := p.run(ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			return nil, p.classify("open in place", "", err)
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Download clicks loc and moves the captured file to dest
func (p *Page) Download(ctx context.Context, loc models.Locator, dest string, timeout time.Duration) error {
	if p.browser.downloadDir == "" {
		return fmt.Errorf("download %s: browser launched without a download directory", loc)
	}
	p.browser.downloads.drain()

	if err := p.Click(ctx, loc, defaultWait); err != nil {
		return err
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-p.browser.downloads.done:
		if !result.completed {
			return fmt.Errorf("download %s: cancelled by browser", loc)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("download %s: %w", loc, err)
		}
		if err := os.Rename(filepath.Join(p.browser.downloadDir, result.guid), dest); err != nil {
			return fmt.Errorf("download %s: failed to move file: %w", loc, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("download %s: no file within %s", loc, timeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return faults.SessionFatal("download", "browser unusable", p.ctx.Err())
	}
}

func (p *Page) Cookies(ctx context.Context) ([]models.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, defaultWait, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, p.classify("cookies", "", err)
	}
	return fromNetworkCookies(cookies), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return p.classify("set cookies", "", p.run(ctx, defaultWait,
		network.Enable(),
		network.SetCookies(toCookieParams(cookies)),
	))
}

// Close closes a popup tab; the main page lives as long as its Browser
func (p *Page) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
