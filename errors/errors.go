package errors

import "fmt"

var (
	ErrMissingField      = fmt.Errorf("required field is missing")
	ErrAlreadyRegistered = fmt.Errorf("phone number already registered")
	ErrIDCollision       = fmt.Errorf("generated id already issued")
	ErrIDExhausted       = fmt.Errorf("id generation attempts exhausted")
	ErrNotFound          = fmt.Errorf("identity not found")
	ErrInvalidCredential = fmt.Errorf("invalid credential")
	ErrNotAuthenticated  = fmt.Errorf("connection is not authenticated")
	ErrTokenGeneration   = fmt.Errorf("token generation failed")
	ErrInvalidToken      = fmt.Errorf("invalid session token")
	ErrBadRequest        = fmt.Errorf("malformed request")
)

// AlreadyRegisteredError carries the id originally issued for the phone
// number, so a duplicate register can report it back to the caller.
// errors.Is(err, ErrAlreadyRegistered) matches it.
type AlreadyRegisteredError struct {
	ExistingID string
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("%v (id %s)", ErrAlreadyRegistered, e.ExistingID)
}

func (e AlreadyRegisteredError) Is(target error) bool {
	return target == ErrAlreadyRegistered
}
