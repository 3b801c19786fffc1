package policy

import "errors"

var ErrMalformedConfig = errors.New("malformed server configuration")
