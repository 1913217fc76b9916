package permission

import "errors"

var (
	// ErrNotAuthorized is returned when the acting principal lacks the
	// authority for a transition.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidTarget is returned when the subject of a transition cannot
	// receive it.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrCrossFamily is returned when comparing roles of different families.
	ErrCrossFamily = errors.New("roles from different families are not comparable")
)
