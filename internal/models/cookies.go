package models

import "time"

// Cookie is a browser cookie in a driver-neutral form
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 = session cookie
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// CookieJar is the persisted cookie set of the last authenticated session
type CookieJar struct {
	Key       string    `json:"key" badgerhold:"key"` // platform host + account label
	BaseURL   string    `json:"base_url"`
	UserAgent string    `json:"user_agent"`
	Cookies   []Cookie  `json:"cookies"`
	SavedAt   time.Time `json:"saved_at"`
}

// Has reports whether every named cookie is present with a value
func (j *CookieJar) Has(names ...string) bool {
	present := make(map[string]bool, len(j.Cookies))
	for _, c := range j.Cookies {
		if c.Value != "" {
			present[c.Name] = true
		}
	}
	for _, name := range names {
		if !present[name] {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one named cookie is present
func (j *CookieJar) HasAny(names ...string) bool {
	for _, name := range names {
		if j.Has(name) {
			return true
		}
	}
	return len(names) == 0 && len(j.Cookies) > 0
}
