package access

import "errors"

var (
	ErrNotFound      = errors.New("access: not found")
	ErrAlreadyExists = errors.New("access: already exists")
	ErrPolicyDenied  = errors.New("access: write rejected by store policy")
	ErrInvalidInput  = errors.New("access: invalid input")
)
