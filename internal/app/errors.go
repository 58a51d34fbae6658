package app

import "fmt"

// DomainError carries the HTTP status and machine-readable code for
// failures the client is expected to handle: validation problems on
// suggestion input, unaddressable field paths, missing snapshots.
// Anything else surfaces as a generic server error in mapError.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
