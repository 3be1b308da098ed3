package crawler

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MatchType selects how an allow rule pattern is compared.
type MatchType string

const (
	MatchPrefix MatchType = "prefix"
	MatchExact  MatchType = "exact"
)

// AllowRule is one allow-list entry. A rule may name an auth profile,
// marking its URLs as requiring a browser session, and may opt a URL
// out of the https-by-default canonicalization.
type AllowRule struct {
	Pattern     string    `yaml:"pattern"`
	Match       MatchType `yaml:"match"`
	AuthProfile string    `yaml:"auth_profile"`
	AllowHTTP   bool      `yaml:"allow_http"`
}

// Policy is the validated crawl policy snapshot: seed URLs, allow/block
// rules and URL canonicalization settings.
type Policy struct {
	SeedURLs       []string    `yaml:"seed_urls"`
	BlockedDomains []string    `yaml:"blocked_domains"`
	BlockedPaths   []string    `yaml:"blocked_paths"`
	AllowRules     []AllowRule `yaml:"allow_rules"`
	AllowedDomains []string    `yaml:"allowed_domains"`

	PreserveQueryParams []string `yaml:"preserve_query_params"`
	BlockedQueryParams  []string `yaml:"blocked_query_params"`

	Auth AuthSignatures `yaml:"auth_signatures"`
}

// LoadPolicy reads and validates a policy YAML document.
func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(p.Auth.IDPHosts) == 0 && len(p.Auth.LoginPaths) == 0 && len(p.Auth.ContentMarkers) == 0 {
		p.Auth = DefaultAuthSignatures()
	}
	return &p, nil
}

func (p *Policy) validate() error {
	for i := range p.AllowRules {
		rule := &p.AllowRules[i]
		if rule.Pattern == "" {
			return fmt.Errorf("allow rule %d: pattern is required", i)
		}
		switch rule.Match {
		case MatchExact, MatchPrefix:
		case "":
			rule.Match = MatchPrefix
		default:
			return fmt.Errorf("allow rule %d: unknown match type %q", i, rule.Match)
		}
	}
	return nil
}

// findAllowRule returns the first allow rule matching url, or nil.
func (p *Policy) findAllowRule(rawURL string) *AllowRule {
	for i := range p.AllowRules {
		rule := &p.AllowRules[i]
		if rule.Match == MatchExact {
			if rawURL == rule.Pattern {
				return rule
			}
			continue
		}
		if rule.Pattern != "" && strings.HasPrefix(rawURL, rule.Pattern) {
			return rule
		}
	}
	return nil
}

// AllowHTTPFor reports whether the rule matching url permits plain http.
func (p *Policy) AllowHTTPFor(rawURL string) bool {
	if rule := p.findAllowRule(rawURL); rule != nil {
		return rule.AllowHTTP
	}
	return false
}

// AuthProfileFor returns the auth profile name required for url, if any.
func (p *Policy) AuthProfileFor(rawURL string) string {
	if rule := p.findAllowRule(rawURL); rule != nil {
		return rule.AuthProfile
	}
	return ""
}

// IsAllowed evaluates blocked domains, blocked path prefixes, allow
// rules, then the allowed-domain fallback, in that order.
func (p *Policy) IsAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := parsed.Host
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	for _, blocked := range p.BlockedDomains {
		if host == blocked {
			return false
		}
	}
	for _, blocked := range p.BlockedPaths {
		if strings.HasPrefix(path, blocked) {
			return false
		}
	}
	if len(p.AllowRules) > 0 {
		return p.findAllowRule(rawURL) != nil
	}
	if len(p.AllowedDomains) > 0 {
		for _, allowed := range p.AllowedDomains {
			if host == allowed {
				return true
			}
		}
		return false
	}
	return true
}

// Canonicalize normalizes a URL into its dedup/identity form: scheme and
// host lower-cased, scheme forced to https unless the matching rule
// allows http, trailing slash stripped, tracking parameters removed and
// only explicitly preserved query parameters retained.
func (p *Policy) Canonicalize(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "http" && !p.AllowHTTPFor(rawURL) {
		scheme = "https"
	}
	host := strings.ToLower(parsed.Host)

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	preserve := make(map[string]bool, len(p.PreserveQueryParams))
	for _, key := range p.PreserveQueryParams {
		preserve[key] = true
	}
	blocked := make(map[string]bool, len(p.BlockedQueryParams))
	for _, key := range p.BlockedQueryParams {
		blocked[key] = true
	}

	var kept []string
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key = pair[:idx]
		}
		if blocked[key] || strings.HasPrefix(key, "utm_") {
			continue
		}
		// With no preserve list every non-blocked parameter is dropped:
		// stricter by default, query params rarely change page identity.
		if preserve[key] {
			kept = append(kept, pair)
		}
	}

	canonical := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: strings.Join(kept, "&"),
	}
	return canonical.String(), nil
}
