package models

import "time"

// User represents an application user (mapped from identity-provider
// claims). BirthDate drives the digital-testament auto-publish sweep; it
// stays nil until the user provides it.
type User struct {
	ID        string     `bson:"_id,omitempty" json:"id"`
	Sub       string     `bson:"sub" json:"sub"` // OIDC subject
	Email     string     `bson:"email" json:"email"`
	Name      string     `bson:"name" json:"name"`
	BirthDate *time.Time `bson:"birthDate,omitempty" json:"birthDate,omitempty"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time  `bson:"updatedAt" json:"updatedAt"`
}
