// Package models defines the domain types shared across Arcaferry.
package models

import "time"

// CardMetadata is a lightweight representation returned by list operations.
type CardMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
