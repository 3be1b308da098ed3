package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthSignatures describes how an identity-provider login surface is
// recognized. The marker lists are configuration: deployments tune them
// for whatever SSO family fronts their content.
type AuthSignatures struct {
	// IDPHosts are substrings matched against a redirect target's host.
	IDPHosts []string `yaml:"idp_hosts"`
	// LoginPaths are substrings matched against the target's path.
	LoginPaths []string `yaml:"login_paths"`
	// QueryMarkers are substrings matched against the target's query.
	QueryMarkers []string `yaml:"query_markers"`
	// TitleMarkers are substrings matched against a rendered page title.
	TitleMarkers []string `yaml:"title_markers"`
	// ContentMarkers are weak signals; at least two must match before a
	// page body alone is treated as a login form.
	ContentMarkers []string `yaml:"content_markers"`
}

// DefaultAuthSignatures covers a CAS-style single-sign-on family.
func DefaultAuthSignatures() AuthSignatures {
	return AuthSignatures{
		IDPHosts:     []string{"cas.", "login.", "sso.", "auth."},
		LoginPaths:   []string{"/cas/login", "/sso/login", "/authenticate/login"},
		QueryMarkers: []string{"service=", "returnpath="},
		TitleMarkers: []string{"central authentication service", "sign in to continue"},
		ContentMarkers: []string{
			"central authentication service",
			"/cas/login",
			`action="/cas/login"`,
			`name="username"`,
			`name="password"`,
			`id="username"`,
			`id="password"`,
			"duo-frame",
			"sso-login",
		},
	}
}

// AuthBounce describes a fetch that was diverted to a login surface.
type AuthBounce struct {
	OriginalURL    string `json:"original_url"`
	RedirectTarget string `json:"redirect_location"`
	RedirectHost   string `json:"redirect_host"`
	MatchedPattern string `json:"matched_auth_pattern"`
}

// MatchRedirect classifies a redirect target against the identity
// provider signatures. It returns the matched pattern, or "" when the
// target does not look like a login surface.
func (s AuthSignatures) MatchRedirect(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	path := strings.ToLower(parsed.Path)
	query := strings.ToLower(parsed.RawQuery)

	for _, idp := range s.IDPHosts {
		if idp != "" && strings.Contains(host, idp) {
			return "idp_host:" + idp
		}
	}
	for _, login := range s.LoginPaths {
		if login != "" && strings.Contains(path, login) {
			return "login_path:" + login
		}
	}
	for _, marker := range s.QueryMarkers {
		if marker != "" && strings.Contains(query, marker) {
			return "sso_query:" + marker
		}
	}
	return ""
}

// DetectPageBounce inspects a rendered page (post browser navigation)
// for signs that the requested content was replaced by a login page.
// A single content marker is not enough: real pages carry isolated
// "log in" links, so body-only detection requires at least two markers.
func (s AuthSignatures) DetectPageBounce(finalURL, title, content string) string {
	parsed, err := url.Parse(finalURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	path := strings.ToLower(parsed.Path)

	for _, idp := range s.IDPHosts {
		if idp != "" && strings.Contains(host, idp) {
			return fmt.Sprintf("redirected_to_idp:%s", host)
		}
	}
	lowerTitle := strings.ToLower(title)
	for _, marker := range s.TitleMarkers {
		if marker != "" && strings.Contains(lowerTitle, marker) {
			return "title_indicates_login"
		}
	}
	for _, login := range s.LoginPaths {
		if login != "" && strings.Contains(path, login) {
			return "login_path_detected"
		}
	}
	lowerContent := strings.ToLower(content)
	matches := 0
	for _, marker := range s.ContentMarkers {
		if marker != "" && strings.Contains(lowerContent, strings.ToLower(marker)) {
			matches++
		}
	}
	if matches >= 2 {
		return "login_form_detected"
	}
	return ""
}
