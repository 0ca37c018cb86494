package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin  UserRole = "ADMIN"
	RoleMember UserRole = "MEMBER"
)

// fallbackDisplayName is used when a user never set a profile name.
const fallbackDisplayName = "メンバー"

// User represents an application user stored in the users table.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      *string   `db:"name" json:"name,omitempty"`
	Image     *string   `db:"image" json:"image,omitempty"`
	Role      UserRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayName returns the profile name or a generic label.
func (u *User) DisplayName() string {
	if u == nil || u.Name == nil || *u.Name == "" {
		return fallbackDisplayName
	}
	return *u.Name
}

// Summary reduces the user to the fields exposed on nested resources.
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image}
}

// UserSummary is the public projection of a user embedded in other payloads.
type UserSummary struct {
	ID    string  `json:"id"`
	Name  *string `json:"name,omitempty"`
	Email string  `json:"email"`
	Image *string `json:"image,omitempty"`
}

// OAuthCredentials are the stored calendar provider tokens for one user.
type OAuthCredentials struct {
	UserID       string     `db:"id"`
	AccessToken  *string    `db:"access_token"`
	RefreshToken *string    `db:"refresh_token"`
	Expiry       *time.Time `db:"token_expiry"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
