package access

import "errors"

var (
	ErrInvalidCredentials  = errors.New("access: invalid credentials")
	ErrAccountInactive     = errors.New("access: account inactive")
	ErrTokenExpired        = errors.New("access: token expired")
	ErrTokenInvalid        = errors.New("access: invalid token")
	ErrInvalidRefreshToken = errors.New("access: invalid refresh token")
	ErrSessionNotFound     = errors.New("access: session not found")
	ErrCycle               = errors.New("access: hierarchy cycle")
	ErrDataIntegrity       = errors.New("access: data integrity")
	ErrPermissionDenied    = errors.New("access: permission denied")
	ErrNotFound            = errors.New("access: not found")
	ErrConflict            = errors.New("access: resource conflict")
	ErrInvalidInput        = errors.New("access: invalid input")
)
