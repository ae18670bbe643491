package internal

import (
	"strings"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
}

func TestLibraryConfig_EmptyPath(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Library.Path = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("empty library path should fail validation")
	}
	if !strings.Contains(err.Error(), "Path") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSQLiteConfig_EmptyPath(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty sqlite path should fail validation")
	}
}

func TestPersonaConfig_TooLong(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Persona.Name = strings.Repeat("x", 65)
	if err := cfg.Validate(); err == nil {
		t.Fatal("oversized persona name should fail validation")
	}
}

func TestPersonaConfig_EmptyAllowed(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Persona.Name = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty persona name should pass: %v", err)
	}
}
