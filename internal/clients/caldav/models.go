package caldav

import (
	"errors"
	"fmt"
)

// Calendar describes one calendar collection on the server.
type Calendar struct {
	Path        string
	DisplayName string
}

// ObjectRef identifies one calendar object resource on the server together
// with the ETag observed at enumeration time.
type ObjectRef struct {
	Href string
	ETag string
}

// ErrPreconditionFailed is returned by PutObjectIfMatch when the server
// rejects the write because the resource changed since it was read (412).
var ErrPreconditionFailed = errors.New("etag precondition failed")

// TransportError wraps connection or authentication failures that make the
// whole run impossible, as opposed to a single object failing.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("caldav %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
