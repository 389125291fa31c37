package models

// Proxy is an outbound proxy bound to a session
type Proxy struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	Country  string `json:"country,omitempty"`
}

// Server returns the host:port form used by the browser flag
func (p *Proxy) Server() string {
	return p.Host + ":" + p.Port
}

// HasAuth reports whether the proxy needs credentials
func (p *Proxy) HasAuth() bool {
	return p.Username != ""
}
