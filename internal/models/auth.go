package models

import "github.com/golang-jwt/jwt/v5"

// Role identifies which identity kind a login resolved to.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStudent  Role = "student"
	RoleGuardian Role = "guardian"
)

// LoginRequest holds the credential pair. Username is an admin username, a NIS, or a guardian name.
type LoginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse tells the client who logged in and where to go next.
type LoginResponse struct {
	Role        Role         `json:"role"`
	UserID      string       `json:"userId"`
	RedirectTo  string       `json:"redirectTo"`
	User        IdentityInfo `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int64        `json:"expiresIn"`
}

// IdentityInfo summarises the resolved identity. Fields are populated per role.
type IdentityInfo struct {
	ID           string `json:"id"`
	Username     string `json:"username,omitempty"`
	NIS          string `json:"nis,omitempty"`
	Name         string `json:"nama,omitempty"`
	Class        string `json:"kelas,omitempty"`
	GuardianName string `json:"nama_wali,omitempty"`
}

// JWTClaims represents the JWT payload. For guardians UserID is the bound student's ID.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}
