// Package account defines the credential collaborator consumed by
// account-mode endpoints. The login, credit, and billing machinery lives
// in the host; this module only asks for the current token when building
// a request.
package account

import "errors"

// ErrNoToken is returned when no account session is available.
var ErrNoToken = errors.New("account: no token available")

// CredentialProvider supplies the auth token for account-mode endpoints.
// Implementations are expected to refresh internally; CurrentToken is
// called once per outgoing request.
type CredentialProvider interface {
	CurrentToken() (string, error)
}

// TokenHeader is the header carrying the account token.
const TokenHeader = "X-Auth-T"

// StaticToken is a fixed-token CredentialProvider, mainly for tests and
// single-user hosts.
type StaticToken string

func (t StaticToken) CurrentToken() (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}
