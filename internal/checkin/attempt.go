package checkin

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"acgo/internal/reqspec"

	"golang.org/x/text/encoding/htmlindex"
)

// maxReadBytes bounds how much of a response is read; MaxBodyRunes of any
// encoding fit well inside it.
const maxReadBytes = 64 << 10

type attemptResult struct {
	at      time.Time
	code    *int
	body    string
	err     error
	errText string
}

func (r *Runner) attempt(ctx context.Context, req reqspec.Request) (res attemptResult) {
	res.at = r.now()
	actx, cancel := context.WithTimeout(ctx, r.attemptTimeout())
	defer cancel()

	hreq, err := req.HTTP(actx)
	if err != nil {
		res.err = fmt.Errorf("%w: %w", ErrTransport, err)
		res.errText = err.Error()
		return res
	}
	resp, err := r.client.Do(hreq)
	if err != nil {
		res.err = fmt.Errorf("%w: %w", ErrTransport, err)
		res.errText = err.Error()
		return res
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		res.err = fmt.Errorf("%w: read body: %w", ErrTransport, err)
		res.errText = "read body: " + err.Error()
		return res
	}

	code := resp.StatusCode
	res.code = &code
	res.body = truncateRunes(decodeBody(raw, resp.Header.Get("Content-Type")), MaxBodyRunes)
	if code < 200 || code > 299 {
		res.errText = statusText(code)
		res.err = fmt.Errorf("%w: %s", ErrHTTPStatus, res.errText)
	}
	return res
}

// decodeBody converts raw to UTF-8 using the charset of contentType.
// Without a usable charset the bytes are kept, invalid sequences replaced.
func decodeBody(raw []byte, contentType string) string {
	if len(raw) == 0 {
		return ""
	}
	var cs string
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			cs = strings.TrimSpace(params["charset"])
		}
	}
	if cs != "" && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "utf8") {
		if enc, err := htmlindex.Get(cs); err == nil {
			if out, err := enc.NewDecoder().Bytes(raw); err == nil {
				return string(out)
			}
		}
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "�")
}

// truncateRunes keeps the first n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
