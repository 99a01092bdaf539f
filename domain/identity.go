// Package domain contains core concepts of the relay.
// This file defines the Identity entity and its public projection.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// DefaultLanguage is assigned to every new identity until a profile
// update flow exists.
const DefaultLanguage = "en"

// Identity represents one registered person.
// ID and Phone are immutable after registration.
type Identity struct {
	ID             string
	Phone          string // normalized "+<digits>" form
	Name           string
	CredentialHash string
	Country        string
	Language       string
	CreatedAt      time.Time
	LastSeenAt     time.Time

	// ConnID is a weak reference to the live connection, empty when
	// offline. The connection index holds the reverse pointer.
	ConnID string
}

// Summary is the public projection of an Identity.
// The credential hash never leaves the repository layer through it.
type Summary struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phoneNumber"`
	Name       string    `json:"name,omitempty"`
	Country    string    `json:"country,omitempty"`
	Language   string    `json:"language"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

func (i Identity) Public() Summary {
	return Summary{
		ID:         i.ID,
		Phone:      i.Phone,
		Name:       i.Name,
		Country:    i.Country,
		Language:   i.Language,
		Online:     i.ConnID != "",
		LastSeenAt: i.LastSeenAt,
	}
}
