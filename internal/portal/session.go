// Package portal implements the session gateway: the single component that
// talks to the data portal over the network.
package portal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Session is the opaque authenticated capability for the portal. The core
// never acquires credentials itself: operators copy the session cookies
// from an authenticated browser session (or an external login helper) and
// hand them over as configuration. A session has a finite unknown lifetime
// and may expire mid-run.
type Session struct {
	Cookies map[string]string `yaml:"cookies"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Valid reports whether the session carries at least one cookie.
func (s Session) Valid() bool {
	return len(s.Cookies) > 0
}

// CookieHeader renders the cookies as a single Cookie header value.
func (s Session) CookieHeader() string {
	parts := make([]string, 0, len(s.Cookies))
	for name, value := range s.Cookies {
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, "; ")
}

// LoadSession reads a session file (YAML with a cookies map and optional
// extra headers).
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- operator-controlled session path
	if err != nil {
		return Session{}, fmt.Errorf("reading session file: %w", err)
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parsing session file: %w", err)
	}
	if !s.Valid() {
		return Session{}, fmt.Errorf("session file %s contains no cookies", path)
	}
	return s, nil
}
