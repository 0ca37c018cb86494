package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	jwt.RegisteredClaims
}

// Identity identifies who is acting on a reservation. Exactly one form is set:
// an authenticated user (UserID) or a guest (GuestName with optional GuestEmail).
type Identity struct {
	UserID     *string
	GuestName  string
	GuestEmail string
}

// UserIdentity builds an identity for an authenticated user.
func UserIdentity(userID string) Identity {
	return Identity{UserID: &userID}
}

// GuestIdentity builds an identity for an anonymous guest.
func GuestIdentity(name, email string) Identity {
	return Identity{GuestName: name, GuestEmail: email}
}

// IsUser reports whether the identity refers to an authenticated user.
func (i Identity) IsUser() bool {
	return i.UserID != nil && *i.UserID != ""
}
