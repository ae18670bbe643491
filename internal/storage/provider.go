// Package storage defines the card-library file-system abstraction.
package storage

import "github.com/Shizuku-Yume/Arcaferry/internal/models"

// Provider is the interface for library file operations.
type Provider interface {
	// List returns metadata for every .png file under dir (relative to library root).
	List(dir string) ([]models.CardMetadata, error)
	// Read returns the raw bytes of the file at path (relative to library root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to library root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to library root).
	Delete(path string) error
	// Move renames oldPath to newPath (both relative to library root).
	Move(oldPath, newPath string) error
}
