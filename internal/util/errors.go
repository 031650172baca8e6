package util

import "errors"

var (
	ErrInvalidIdentifier = errors.New("invalid location identifier")
	ErrInvalidScope      = errors.New("invalid field scope")
	ErrInvalidWrite      = errors.New("write to read-only field scope")
	ErrNotFound          = errors.New("record not found")
	ErrInvalidDueDate    = errors.New("due date extension earlier than block start")
	ErrAlreadyRunning    = errors.New("a matching operation is already running")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPolicy            = errors.New("malformed grading policy")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailRegistered   = errors.New("email already registered")
)
