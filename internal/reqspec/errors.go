package reqspec

import (
	"errors"
	"fmt"
)

// ErrSpecParse is the root of every parse failure. Parse failures are
// deterministic and never retried.
var ErrSpecParse = errors.New("request spec parse error")

var (
	ErrMissingURL       = fmt.Errorf("%w: missing url", ErrSpecParse)
	ErrMalformedQuoting = fmt.Errorf("%w: malformed quoting", ErrSpecParse)
	ErrSpecTooLong      = fmt.Errorf("%w: spec too long", ErrSpecParse)
)
