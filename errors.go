package visitguard

import (
	"errors"
	"fmt"
	"net/http"
)

// DefaultErrorMessage is surfaced by Visit when the endpoint gave no message.
const DefaultErrorMessage = "Error al registrar visita"

// ErrRateLimited reports that the endpoint refused the increment because this
// client counted the resource too recently. Visit treats it as already counted.
var ErrRateLimited = errors.New("visitguard: rate limited")

// RemoteError is a non-2xx answer from the increment endpoint.
type RemoteError struct {
	Status  int
	Message string // from the error payload; may be empty
}

// Error returns the endpoint's message so it can be shown to the user as is.
func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("visit endpoint: status %d", e.Status)
}

func (e *RemoteError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// errorMessage extracts the user-facing message for err: the remote payload
// message when there is one, DefaultErrorMessage otherwise.
func errorMessage(err error) string {
	var re *RemoteError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return DefaultErrorMessage
}
