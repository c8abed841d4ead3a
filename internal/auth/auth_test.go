// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHashSecret_RoundTrip(t *testing.T) {
	hash, err := HashSecret("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash equals plaintext")
	}

	if !CompareSecret(hash, "correct horse battery staple") {
		t.Error("CompareSecret() = false for matching secret")
	}
	if CompareSecret(hash, "wrong password") {
		t.Error("CompareSecret() = true for wrong secret")
	}
}

func TestHashSecret_Salted(t *testing.T) {
	h1, _ := HashSecret("same input")
	h2, _ := HashSecret("same input")

	// bcrypt salts per call.
	if h1 == h2 {
		t.Error("two hashes of the same secret are identical")
	}
}

func TestValidatePIN(t *testing.T) {
	valid := []string{"0000", "1234", "9999"}
	for _, pin := range valid {
		if err := ValidatePIN(pin); err != nil {
			t.Errorf("ValidatePIN(%q) = %v, want nil", pin, err)
		}
	}

	invalid := []string{"", "123", "12345", "12a4", "12.4", "١٢٣٤", " 1234"}
	for _, pin := range invalid {
		if err := ValidatePIN(pin); !errors.Is(err, ErrInvalidPIN) {
			t.Errorf("ValidatePIN(%q) = %v, want ErrInvalidPIN", pin, err)
		}
	}
}

func TestManager_IssueAndResolve(t *testing.T) {
	m := NewManager(time.Hour)

	s, err := m.Issue("doctor-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !strings.HasPrefix(s.Token, "sess_") || len(s.Token) != len("sess_")+32 {
		t.Errorf("token = %q, want sess_ prefix and 32 hex chars", s.Token)
	}

	doctorID, err := m.Resolve(s.Token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if doctorID != "doctor-1" {
		t.Errorf("Resolve() = %q, want doctor-1", doctorID)
	}
}

func TestManager_ResolveUnknownToken(t *testing.T) {
	m := NewManager(time.Hour)

	if _, err := m.Resolve("sess_deadbeef"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Resolve() error = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_ExpiredSession(t *testing.T) {
	m := NewManager(time.Hour)

	s, _ := m.Issue("doctor-1")
	s.ExpiresAt = time.Now().Add(-time.Minute)

	if _, err := m.Resolve(s.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Resolve() of expired session = %v, want ErrSessionNotFound", err)
	}

	// Resolving an expired token also removes it.
	if m.Len() != 0 {
		t.Errorf("Len() = %d after expired resolve, want 0", m.Len())
	}
}

func TestManager_Revoke(t *testing.T) {
	m := NewManager(time.Hour)

	s, _ := m.Issue("doctor-1")
	m.Revoke(s.Token)

	if _, err := m.Resolve(s.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Resolve() after revoke = %v, want ErrSessionNotFound", err)
	}

	// Revoking twice is harmless.
	m.Revoke(s.Token)
}

func TestManager_Sweep(t *testing.T) {
	m := NewManager(time.Hour)

	live, _ := m.Issue("doctor-live")
	stale, _ := m.Issue("doctor-stale")
	stale.ExpiresAt = time.Now().Add(-time.Minute)

	if removed := m.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if _, err := m.Resolve(live.Token); err != nil {
		t.Errorf("live session swept: %v", err)
	}
}

func TestManager_TokensAreUnique(t *testing.T) {
	m := NewManager(time.Hour)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := m.Issue("d")
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if seen[s.Token] {
			t.Fatalf("duplicate token issued: %s", s.Token)
		}
		seen[s.Token] = true
	}
}

func TestNewManager_DefaultTTL(t *testing.T) {
	m := NewManager(0)
	s, _ := m.Issue("d")

	ttl := s.ExpiresAt.Sub(s.CreatedAt)
	if ttl != DefaultSessionTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultSessionTTL)
	}
}
