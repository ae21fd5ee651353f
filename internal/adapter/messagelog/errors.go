package messagelog

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError means no usable response was received: the connection
// failed, the per-call deadline expired or the body could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("messagelog %s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-2xx answer from the store.
type RemoteError struct {
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("store error [%d]: %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("store error [%d]: %s", e.Status, e.Detail)
}

// IsStatus reports whether err is a RemoteError with the given status.
func IsStatus(err error, status int) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Status == status
}
