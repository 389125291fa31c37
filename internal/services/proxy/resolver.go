// Package proxy picks the outbound proxy for new browser sessions: a manually
// configured one, or the first reachable entry of a Webshare proxy list.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/httpclient"
	"github.com/ternarybob/vetter/internal/models"
	"golang.org/x/time/rate"
)

// ErrInvalidProxy is returned for malformed manual proxy strings
var ErrInvalidProxy = errors.New("invalid proxy, expected user:pass@host:port or host:port")

// Resolver picks a proxy per session. Resolve returns nil when the session should connect directly.
type Resolver struct {
	manual  string
	token   string
	listURL string
	country string
	testURL string

	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewResolver creates a Resolver from the browser section
func NewResolver(cfg *common.Config, logger arbor.ILogger) *Resolver {
	return &Resolver{
		manual:  cfg.Browser.Proxy,
		token:   cfg.Browser.WebshareToken,
		listURL: cfg.Browser.WebshareURL,
		country: cfg.Browser.ProxyCountry,
		testURL: cfg.Browser.ProxyTestURL,
		client:  httpclient.NewDefaultHTTPClient(30 * time.Second),
		// The list API is shared by every worker's session rebuild
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:  logger,
	}
}

// Resolve returns the manual proxy when configured, else the first reachable listed proxy
func (r *Resolver) Resolve(ctx context.Context) (*models.Proxy, error) {
	if r.manual != "" {
		proxy, err := ParseManual(r.manual)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Ignoring manual proxy")
		} else {
			r.logger.Info().Str("proxy", proxy.Server()).Msg("Using manual proxy")
			return proxy, nil
		}
	}

	if r.token == "" {
		r.logger.Debug().Msg("No proxy configured, using direct connection")
		return nil, nil
	}

	proxies, err := r.fetchList(ctx)
	if err != nil {
		return nil, err
	}
	if len(proxies) == 0 {
		r.logger.Info().Msg("Proxy list empty, using direct connection")
		return nil, nil
	}

	for i := range proxies {
		proxy := &proxies[i]
		if err := r.test(ctx, proxy); err != nil {
			r.logger.Debug().Str("proxy", proxy.Server()).Err(err).Msg("Proxy unreachable")
			continue
		}
		r.logger.Info().
			Str("proxy", proxy.Server()).
			Str("country", proxy.Country).
			Msg("Using listed proxy")
		return proxy, nil
	}

	r.logger.Warn().Int("tried", len(proxies)).Msg("All listed proxies failed, using direct connection")
	return nil, nil
}

// ParseManual parses user:pass@host:port or host:port
func ParseManual(s string) (*models.Proxy, error) {
	s = strings.TrimSpace(s)
	proxy := &models.Proxy{}

	address := s
	if at := strings.LastIndex(s, "@"); at >= 0 {
		auth := s[:at]
		address = s[at+1:]
		user, pass, ok := strings.Cut(auth, ":")
		if !ok || user == "" {
			return nil, ErrInvalidProxy
		}
		proxy.Username = user
		proxy.Password = pass
	}

	host, port, ok := strings.Cut(address, ":")
	if !ok || host == "" {
		return nil, ErrInvalidProxy
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return nil, ErrInvalidProxy
	}
	proxy.Host = host
	proxy.Port = port
	return proxy, nil
}

type listResponse struct {
	Results []struct {
		Address     string `json:"proxy_address"`
		Port        int    `json:"port"`
		Username    string `json:"username"`
		Password    string `json:"password"`
		Valid       bool   `json:"valid"`
		CountryCode string `json:"country_code"`
	} `json:"results"`
}

// fetchList returns the valid listed proxies, preferred country first
func (r *Resolver) fetchList(ctx context.Context) ([]models.Proxy, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy list request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proxy list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy list returned status %d", resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode proxy list: %w", err)
	}

	var proxies []models.Proxy
	for _, p := range body.Results {
		if !p.Valid || p.Address == "" {
			continue
		}
		proxies = append(proxies, models.Proxy{
			Host:     p.Address,
			Port:     strconv.Itoa(p.Port),
			Username: p.Username,
			Password: p.Password,
			Country:  p.CountryCode,
		})
	}

	sort.SliceStable(proxies, func(i, j int) bool {
		return proxies[i].Country == r.country && proxies[j].Country != r.country
	})

	r.logger.Debug().
		Int("valid", len(proxies)).
		Int("listed", len(body.Results)).
		Msg("Fetched proxy list")
	return proxies, nil
}

// test makes one request through proxy to the platform
func (r *Resolver) test(ctx context.Context, proxy *models.Proxy) error {
	client := httpclient.NewProxyClient(proxy, 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.testURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
