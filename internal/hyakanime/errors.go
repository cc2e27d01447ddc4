package hyakanime

import "fmt"

// Error codes reported by the client.
const (
	CodeNoToken      = "NO_TOKEN"
	CodeBadArgs      = "BAD_ARGS"
	CodeNetworkError = "NETWORK_ERROR"
	CodeHTTPError    = "HTTP_ERROR"
	CodeBadResponse  = "BAD_RESPONSE"
)

// APIError is the typed error surface of the client.
type APIError struct {
	Code    string
	Status  int // HTTP status, 0 when the request never completed
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("hyakanime: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("hyakanime: %s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func badArgs(msg string) *APIError {
	return &APIError{Code: CodeBadArgs, Message: msg}
}
