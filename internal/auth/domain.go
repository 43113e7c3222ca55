package auth

import "time"

// Credential is the login record of an actor.
type Credential struct {
	ActorID      string
	PasswordHash string
	Locale       string
	IsActive     bool
	UpdatedAt    time.Time
}
