package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/locators"
	"github.com/ternarybob/vetter/internal/models"
)

var (
	// ErrChallenge is returned when a bot-mitigation page never clears
	ErrChallenge = errors.New("bot challenge did not clear")
	// ErrNoCredentials is returned when no platform login is configured
	ErrNoCredentials = errors.New("platform credentials not configured")
)

// login runs the login protocol on page. Callers hold loginMu.
func (m *Manager) login(ctx context.Context, page interfaces.Page) error {
	if err := page.Navigate(ctx, m.opts.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	if err := m.awaitChallenge(ctx, page); err != nil {
		return err
	}

	url, err := page.URL(ctx)
	if err != nil {
		return err
	}
	if m.loggedIn(url) {
		m.logger.Info().Msg("Already logged in via restored cookies")
		return nil
	}

	if m.opts.Email == "" || m.opts.Password == "" {
		return ErrNoCredentials
	}

	fields := []struct {
		action string
		value  string
	}{
		{"login.email", m.opts.Email},
		{"login.password", m.opts.Password},
	}
	for _, field := range fields {
		value := field.value
		_, err := locators.FirstMatch(ctx, field.action, m.catalog.Candidates(field.action), func(ctx context.Context, loc models.Locator) error {
			return page.Fill(ctx, loc, value, m.opts.FieldTimeout)
		})
		if err != nil {
			return err
		}
	}

	_, err = locators.FirstMatch(ctx, "login.submit", m.catalog.Candidates("login.submit"), func(ctx context.Context, loc models.Locator) error {
		return page.Click(ctx, loc, m.opts.FieldTimeout)
	})
	if err != nil {
		return err
	}

	policy := common.PollPolicy{Name: "login confirm", Interval: time.Second, Timeout: m.opts.LoginConfirmTimeout}
	_, err = common.PollUntil(ctx, m.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		url, err := page.URL(ctx)
		if err != nil {
			return false, err
		}
		return m.loggedIn(url), nil
	})
	if err != nil {
		url, _ := page.URL(ctx)
		return fmt.Errorf("login not confirmed (at %s): %w", url, err)
	}

	m.logger.Info().Msg("Login successful")
	return nil
}

// awaitChallenge backs off while the page shows a bot-mitigation interstitial
func (m *Manager) awaitChallenge(ctx context.Context, page interfaces.Page) error {
	policy := common.PollPolicy{
		Name:        "challenge",
		Interval:    m.opts.ChallengeInterval,
		MaxInterval: m.opts.ChallengeWait,
		Multiplier:  2,
		Timeout:     m.opts.ChallengeWait,
	}
	_, err := common.PollUntil(ctx, m.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		html, err := page.HTML(ctx)
		if err != nil {
			return false, err
		}
		marker := challengeMarker(html, m.opts.ChallengeMarkers)
		if marker == "" {
			return true, nil
		}
		m.logger.Warn().
			Int("attempt", attempt).
			Str("marker", marker).
			Msg("Bot challenge detected, backing off")
		return false, nil
	})
	if errors.Is(err, common.ErrPollExhausted) {
		return fmt.Errorf("%w: %v", ErrChallenge, err)
	}
	return err
}

func (m *Manager) loggedIn(url string) bool {
	url = strings.ToLower(url)
	for _, marker := range m.opts.LoggedInMarkers {
		if marker != "" && strings.Contains(url, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// challengeMarker returns the first marker found in html, case-insensitively
func challengeMarker(html string, markers []string) string {
	lower := strings.ToLower(html)
	for _, marker := range markers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}
