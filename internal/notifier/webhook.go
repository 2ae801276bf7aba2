package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"acgo/internal/settings"
)

const webhookDateLayout = "2006-01-02 15:04:05"

// payload is the generic webhook body, also published on redis.
func (d *Dispatcher) payload(ev Event, includeResponse bool) map[string]any {
	p := map[string]any{
		"title":         ev.AccountName,
		"account_name":  ev.AccountName,
		"status":        ev.Status,
		"response_code": nil,
		"date":          d.now().Format(webhookDateLayout),
		"message":       ev.Message,
	}
	if ev.Code != nil {
		p["response_code"] = *ev.Code
	}
	if includeResponse && ev.Body != "" {
		p["response_body"] = ev.Body
	}
	return p
}

// fields flattens p for form, multipart and query encodings. A null code
// becomes the empty string.
func fields(p map[string]any) url.Values {
	v := url.Values{}
	for k, val := range p {
		switch x := val.(type) {
		case nil:
			v.Set(k, "")
		case int:
			v.Set(k, strconv.Itoa(x))
		case string:
			v.Set(k, x)
		default:
			v.Set(k, fmt.Sprint(x))
		}
	}
	return v
}

func (d *Dispatcher) sendWebhook(ctx context.Context, n settings.Notification, ev Event) error {
	w := n.Webhook
	if strings.TrimSpace(w.URL) == "" {
		return fmt.Errorf("%w: webhook_url is empty", ErrNotConfigured)
	}
	method := strings.ToUpper(strings.TrimSpace(w.Method))
	if method == "" {
		method = http.MethodPost
	}

	p := d.payload(ev, w.IncludeResponse)
	headers := make(http.Header, len(w.Headers))
	contentType := ""
	for k, v := range w.Headers {
		if strings.EqualFold(k, "Content-Type") {
			contentType = strings.ToLower(v)
			continue
		}
		headers.Set(k, v)
	}

	var (
		req *http.Request
		err error
	)
	// POST carries a body; any other method is sent as GET with query parameters.
	switch method {
	case http.MethodPost:
		var body io.Reader
		switch {
		case strings.Contains(contentType, "multipart/form-data"):
			buf, ct, merr := multipartBody(fields(p))
			if merr != nil {
				return merr
			}
			body = buf
			headers.Set("Content-Type", ct)
		case strings.Contains(contentType, "application/x-www-form-urlencoded"):
			body = strings.NewReader(fields(p).Encode())
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
		default:
			b, jerr := json.Marshal(p)
			if jerr != nil {
				return jerr
			}
			body = bytes.NewReader(b)
			headers.Set("Content-Type", "application/json")
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, w.URL, body)
	default:
		u, perr := url.Parse(w.URL)
		if perr != nil {
			return fmt.Errorf("webhook_url: %w", perr)
		}
		q := u.Query()
		for k, vs := range fields(p) {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	for k, vs := range headers {
		req.Header[k] = vs
	}
	_, err = d.do(req)
	return err
}

func multipartBody(v url.Values) (*bytes.Buffer, string, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, k := range keys {
		if err := mw.WriteField(k, v.Get(k)); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

// do sends req and returns at most 64 KiB of the body. Non-2xx is ErrStatus.
func (d *Dispatcher) do(req *http.Request) ([]byte, error) {
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("%w: HTTP %d", ErrStatus, resp.StatusCode)
	}
	return body, nil
}
