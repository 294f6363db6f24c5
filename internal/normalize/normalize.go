package normalize

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrInvalidHost indicates the provided string does not name a DNS host.
	ErrInvalidHost = errors.New("invalid host")
)

var (
	ldhRe = regexp.MustCompile(`^[a-z0-9-]{1,63}$`)
)

// ExtractHost returns the host part of a URL or domain-like string.
// It trims whitespace, drops any scheme, userinfo, port, path, query or
// fragment, and removes a trailing dot.
// Examples:
//
//	"https://www.BBC.co.uk/news/x" -> "www.BBC.co.uk"
//	"theguardian.com"              -> "theguardian.com"
func ExtractHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			return strings.TrimSuffix(u.Hostname(), ".")
		}
	}
	if i := strings.IndexAny(s, "/#?"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}

// ValidateLDH asserts a single ASCII label is LDH and within length
// constraints with no leading/trailing hyphen.
func ValidateLDH(ascii string) error {
	if !ldhRe.MatchString(ascii) {
		return ErrInvalidHost
	}
	if strings.HasPrefix(ascii, "-") || strings.HasSuffix(ascii, "-") {
		return ErrInvalidHost
	}
	return nil
}

// Host converts a URL or domain to its lowercase ASCII (Punycode) host
// using the IDNA Lookup profile. Hosts need at least two labels.
func Host(input string) (string, error) {
	h := ExtractHost(input)
	if h == "" || !strings.Contains(h, ".") {
		return "", ErrInvalidHost
	}
	ascii, err := idna.Lookup.ToASCII(h)
	if err != nil {
		return "", ErrInvalidHost
	}
	ascii = strings.ToLower(ascii)
	for _, label := range strings.Split(ascii, ".") {
		if err := ValidateLDH(label); err != nil {
			return "", err
		}
	}
	return ascii, nil
}
