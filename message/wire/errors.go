package wire

import "errors"

// ErrMalformedStatusLine is reported when a response's first line does
// not parse as "HTTP/x.y <code> <reason>".
var ErrMalformedStatusLine = errors.New("wire: malformed status line")
