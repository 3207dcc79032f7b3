package app

import "fmt"

// DomainError is a failure the HTTP layer writes straight onto the wire:
// Status becomes the response status, Code a stable machine-readable
// identifier, Message the user-facing text. Anything the service layer wants
// a client to see travels as one of these; all other errors collapse into a
// generic 500.
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
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
