// Utilities for importing a browser session from a "Copy as cURL" command.
package shared

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
)

var (
	curlHeaderRe = regexp.MustCompile(`(?:-H|--header)\s+(?:'([^']+)'|"([^"]+)")`)
	curlCookieRe = regexp.MustCompile(`(?:-b|--cookie)\s+(?:'([^']+)'|"([^"]+)")`)
	curlURLRe    = regexp.MustCompile(`'(https?://[^']+)'|"(https?://[^"]+)"|(https?://[^\s'"]+)`)
)

// CurlRequest is the part of a copied browser request needed to resume its session.
type CurlRequest struct {
	URL     string
	Headers map[string]string
	Cookie  string
}

// ParseCurlFile reads a file containing a cURL command and parses it.
func ParseCurlFile(path string) (*CurlRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read curl file: %w", err)
	}

	return ParseCurlCommand(string(content))
}

// ParseCurlCommand extracts the URL, headers and cookie from a cURL command.
//
// A -b/--cookie value wins over a Cookie header. The Cookie header is never kept in Headers.
func ParseCurlCommand(command string) (*CurlRequest, error) {
	command = strings.ReplaceAll(command, "\\\n", " ")
	command = strings.ReplaceAll(command, "\\", "")

	req := &CurlRequest{Headers: make(map[string]string)}
	rest := curlCookieRe.ReplaceAllString(curlHeaderRe.ReplaceAllString(command, ""), "")
	if m := curlURLRe.FindStringSubmatch(rest); m != nil {
		req.URL = firstGroup(m)
	}

	var headerCookie string
	for _, m := range curlHeaderRe.FindAllStringSubmatch(command, -1) {
		key, value, ok := strings.Cut(firstGroup(m), ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if strings.EqualFold(key, "cookie") {
			if headerCookie == "" {
				headerCookie = value
			}
			continue
		}
		req.Headers[key] = value
	}

	req.Cookie = headerCookie
	if m := curlCookieRe.FindStringSubmatch(command); m != nil {
		req.Cookie = firstGroup(m)
	}

	if len(req.Headers) == 0 && req.Cookie == "" {
		return nil, fmt.Errorf("%w: no headers or cookies found in curl command", ErrInvalidInput)
	}
	return req, nil
}

// Cookies parses the cookie line into individual cookies.
func (c *CurlRequest) Cookies() ([]*http.Cookie, error) {
	if c.Cookie == "" {
		return nil, fmt.Errorf("%w: curl command carries no cookies", ErrInvalidInput)
	}

	cookies, err := http.ParseCookie(c.Cookie)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return cookies, nil
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
