package model

import "time"

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Identity is the authenticated caller as returned by login and /auth/me.
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	// SessionID is the token's jti; set only on authenticated requests.
	SessionID string `json:"-"`
}

func (i *Identity) IsDoctor() bool {
	return i != nil && i.Type == UserTypeDoctor
}

func (i *Identity) IsOrganization() bool {
	return i != nil && i.Type == UserTypeOrganization
}

// IdentityFromUser builds the public identity of u.
func IdentityFromUser(u *User) *Identity {
	return &Identity{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.DisplayName(),
		Type:  u.Type,
	}
}

// Session is a login session keyed by the token jti.
type Session struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	UserID    int64     `db:"user_id"`
	Data      []byte    `db:"data"`
	Expiry    time.Time `db:"expiry"`
}

type LoginResponse struct {
	Identity *Identity
	Token    string
}
