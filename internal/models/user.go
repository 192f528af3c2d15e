package models

import (
	"github.com/google/uuid"
)

// Identity is the verified caller as reported by the auth provider.
type Identity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// Profile is read-only display data owned by the profile service.
type Profile struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FullName  string    `json:"full_name" db:"full_name"`
	AvatarURL string    `json:"avatar_url" db:"avatar_url"`
}
