package reqspec

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"
)

// MaxSpecLen is the longest accepted request spec, in characters.
const MaxSpecLen = 50000

// Request is the structured form of a request spec. It is rebuilt from the
// stored spec on every execution and never persisted unredacted.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Cookies map[string]string `json:"cookies"`
	Body    string            `json:"data"`
	// HasBody distinguishes "-d ''" from no body flag at all.
	HasBody bool `json:"-"`
}

type flagKind int

const (
	flagURL flagKind = iota + 1
	flagMethod
	flagHeader
	flagUserAgent
	flagReferer
	flagCookie
	flagData
	flagForm
	// flagIgnored consumes the next token without using it.
	flagIgnored
)

var valueFlags = map[string]flagKind{
	"--url": flagURL,

	"-X":        flagMethod,
	"--request": flagMethod,

	"-H":       flagHeader,
	"--header": flagHeader,

	"-A":           flagUserAgent,
	"--user-agent": flagUserAgent,

	"-e":        flagReferer,
	"--referer": flagReferer,

	"-b":       flagCookie,
	"--cookie": flagCookie,

	"-d":               flagData,
	"--data":           flagData,
	"--data-raw":       flagData,
	"--data-binary":    flagData,
	"--data-urlencode": flagData,
	"--data-ascii":     flagData,

	"-F":            flagForm,
	"--form":        flagForm,
	"--form-string": flagForm,

	// curl options that take a value we do not model. Their value is
	// swallowed so a proxy or output path is never mistaken for the url.
	"-o": flagIgnored, "--output": flagIgnored,
	"-u": flagIgnored, "--user": flagIgnored,
	"-x": flagIgnored, "--proxy": flagIgnored,
	"-U": flagIgnored, "--proxy-user": flagIgnored,
	"-m": flagIgnored, "--max-time": flagIgnored,
	"--connect-timeout": flagIgnored,
	"-w":                flagIgnored, "--write-out": flagIgnored,
	"--retry": flagIgnored,
	"-T":      flagIgnored, "--upload-file": flagIgnored,
	"-r": flagIgnored, "--range": flagIgnored,
	"-K": flagIgnored, "--config": flagIgnored,
	"-E": flagIgnored, "--cert": flagIgnored,
	"--key":        flagIgnored,
	"--cacert":     flagIgnored,
	"--resolve":    flagIgnored,
	"--interface":  flagIgnored,
	"--limit-rate": flagIgnored,
	"--max-redirs": flagIgnored,
	"-c":           flagIgnored, "--cookie-jar": flagIgnored,
}

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
	http.MethodConnect: {},
}

// Parse turns raw into a Request. All returned errors wrap ErrSpecParse.
func Parse(raw string) (Request, error) {
	if utf8.RuneCountInString(raw) > MaxSpecLen {
		return Request{}, fmt.Errorf("%w (limit %d characters)", ErrSpecTooLong, MaxSpecLen)
	}

	words, err := shellquote.Split(normalize(raw))
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedQuoting, err)
	}
	if len(words) > 0 && words[0] == "curl" {
		words = words[1:]
	}

	p := parser{
		req: Request{
			Headers: map[string]string{},
			Cookies: map[string]string{},
		},
	}
	for i := 0; i < len(words); i++ {
		tok := words[i]

		kind, value, inline := splitFlag(tok)
		if kind == 0 {
			p.bare(tok)
			continue
		}
		if !inline {
			if i+1 >= len(words) {
				// Trailing flag without a value.
				break
			}
			i++
			value = words[i]
		}
		p.apply(kind, value)
	}

	return p.finish()
}

// normalize folds the line continuations of a multi-line copy into spaces.
func normalize(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\\\n", " ")
	s = strings.ReplaceAll(s, `\n`, " ")
	return s
}

// splitFlag recognizes "-X VALUE", "-XVALUE" and "--request=VALUE" forms.
// kind is zero when tok is not a value-taking flag.
func splitFlag(tok string) (kind flagKind, value string, inline bool) {
	if !strings.HasPrefix(tok, "-") || tok == "-" {
		return 0, "", false
	}
	if k, ok := valueFlags[tok]; ok {
		return k, "", false
	}
	if strings.HasPrefix(tok, "--") {
		name, v, ok := strings.Cut(tok, "=")
		if !ok {
			return 0, "", false
		}
		if k, ok := valueFlags[name]; ok {
			return k, v, true
		}
		return 0, "", false
	}
	if len(tok) > 2 {
		if k, ok := valueFlags[tok[:2]]; ok {
			return k, tok[2:], true
		}
	}
	return 0, "", false
}

type parser struct {
	req Request

	methodSet bool
	urlSet    bool
	bodyParts []string
}

func (p *parser) bare(tok string) {
	if strings.HasPrefix(tok, "-") {
		return
	}
	if !p.urlSet && isHTTPURL(tok) {
		p.req.URL = tok
		p.urlSet = true
		return
	}
	// "curl POST https://..." is a common hand-written variant.
	if !p.urlSet && !p.methodSet {
		if _, ok := knownMethods[tok]; ok {
			p.req.Method = tok
			p.methodSet = true
		}
	}
}

func (p *parser) apply(kind flagKind, value string) {
	switch kind {
	case flagURL:
		if !p.urlSet && strings.TrimSpace(value) != "" {
			p.req.URL = strings.TrimSpace(value)
			p.urlSet = true
		}
	case flagMethod:
		if m := strings.ToUpper(strings.TrimSpace(value)); m != "" {
			p.req.Method = m
			p.methodSet = true
		}
	case flagHeader:
		p.header(value)
	case flagUserAgent:
		p.req.Headers["User-Agent"] = value
	case flagReferer:
		p.req.Headers["Referer"] = value
	case flagCookie:
		p.cookies(value)
	case flagData, flagForm:
		p.bodyParts = append(p.bodyParts, value)
	}
}

func (p *parser) header(value string) {
	name, v, ok := strings.Cut(value, ":")
	if !ok {
		// curl's "-H 'X-Empty;'" sends an empty header.
		if n, found := strings.CutSuffix(strings.TrimSpace(value), ";"); found && n != "" {
			p.req.Headers[strings.TrimSpace(n)] = ""
		}
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	p.req.Headers[name] = strings.TrimSpace(v)
}

func (p *parser) cookies(value string) {
	for _, pair := range strings.Split(value, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		p.req.Cookies[k] = strings.TrimSpace(v)
	}
}

func (p *parser) finish() (Request, error) {
	if !p.urlSet {
		return Request{}, ErrMissingURL
	}
	if len(p.bodyParts) > 0 {
		p.req.Body = strings.Join(p.bodyParts, "&")
		p.req.HasBody = true
		if !p.methodSet {
			p.req.Method = http.MethodPost
		}
	}
	if p.req.Method == "" {
		p.req.Method = http.MethodGet
	}
	return p.req, nil
}

func isHTTPURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// IsParseError reports whether err belongs to the parse error taxonomy.
func IsParseError(err error) bool { return errors.Is(err, ErrSpecParse) }
