package auth

import "errors"

var (
	// ErrInvalidToken covers every reason a session token is rejected.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrStateExists is returned when a login state is registered twice.
	ErrStateExists = errors.New("auth: login state already registered")
)
