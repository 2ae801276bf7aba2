package reqspec

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
)

const defaultContentType = "application/x-www-form-urlencoded"

// HTTP builds a ready-to-send request. Header names keep the case they were
// given in. An explicit Cookie header takes precedence over the cookie map.
func (r Request) HTTP(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.HasBody {
		body = strings.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}

	hasCookie, hasType := false, false
	for name, v := range r.Headers {
		switch {
		case strings.EqualFold(name, "Host"):
			req.Host = v
			continue
		case strings.EqualFold(name, "Content-Length"):
			continue
		case strings.EqualFold(name, "Cookie"):
			hasCookie = true
		case strings.EqualFold(name, "Content-Type"):
			hasType = true
		}
		req.Header[name] = []string{v}
	}
	if !hasCookie && len(r.Cookies) > 0 {
		req.Header.Set("Cookie", r.CookieHeader())
	}
	if r.HasBody && !hasType {
		req.Header.Set("Content-Type", defaultContentType)
	}
	return req, nil
}

// CookieHeader renders the cookie map as a Cookie header value, names sorted.
func (r Request) CookieHeader() string {
	names := make([]string, 0, len(r.Cookies))
	for k := range r.Cookies {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Cookies[k])
	}
	return b.String()
}

// Preview parses raw and renders the result as indented JSON. The output is
// stable for a given input.
func Preview(raw string) ([]byte, error) {
	req, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
