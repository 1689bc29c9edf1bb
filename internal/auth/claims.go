// Package auth issues and checks the session tokens that prove a client
// entered the PIN. Tokens are RS256 JWTs carrying a random session ID.
package auth

import "github.com/golang-jwt/jwt/v5"

// SessionScope is the scope granted by a verified PIN: access to both boards.
const SessionScope = "boards"

// Claims represents the JWT claims of a PIN session token.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}
