package httpclient

import (
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/vetter/internal/models"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewProxyClient creates an HTTP client that sends every request through proxy,
// authenticating when the proxy carries credentials
func NewProxyClient(proxy *models.Proxy, timeout time.Duration) *http.Client {
	proxyURL := &url.URL{Scheme: "http", Host: proxy.Server()}
	if proxy.HasAuth() {
		proxyURL.User = url.UserPassword(proxy.Username, proxy.Password)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
