package auth

import "errors"

// Error taxonomy for the auth core. Cryptographic and structural failures are
// never downgraded to "unauthenticated": callers can always distinguish an
// absent token from an invalid one.
var (
	ErrProviderNotFound    = errors.New("auth: provider not found")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
	ErrPermissionDenied    = errors.New("auth: permission denied")
)
