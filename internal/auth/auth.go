// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth provides credential hashing and bearer-session management for
// the Doctor Assist API.
//
// Passwords and history PINs both go through bcrypt; plaintext secrets never
// leave this package's call frames. Sessions are opaque random tokens held in
// memory — restarting the server logs everyone out, which is acceptable for a
// single-node deployment.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// CREDENTIAL HASHING
// =============================================================================

// HashCost is the bcrypt cost for passwords and history PINs.
const HashCost = 10

// pinRE matches exactly four ASCII digits.
var pinRE = regexp.MustCompile(`^\d{4}$`)

// ErrInvalidPIN is returned when a history PIN is not exactly four digits.
var ErrInvalidPIN = errors.New("PIN must be exactly 4 digits")

// HashSecret hashes a password or PIN with bcrypt.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), HashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret reports whether secret matches the stored bcrypt hash.
// SECURITY: bcrypt comparison is constant-time for equal-cost hashes.
func CompareSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ValidatePIN checks the history PIN format: exactly four digits.
func ValidatePIN(pin string) error {
	if !pinRE.MatchString(pin) {
		return ErrInvalidPIN
	}
	return nil
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// DefaultSessionTTL is the lifetime of a bearer session.
const DefaultSessionTTL = 8 * time.Hour

// ErrSessionNotFound is returned when a token does not resolve to a live
// session — unknown, expired, or revoked all look the same to the caller.
var ErrSessionNotFound = errors.New("session not found")

// Session is a live bearer session for one doctor.
type Session struct {
	Token     string
	DoctorID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager issues and resolves bearer tokens.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewManager creates a session manager. Non-positive TTL uses the default.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// newToken creates a 128-bit cryptographically random bearer token.
func newToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("cryptographic random generation failed: %w", err)
	}
	return "sess_" + hex.EncodeToString(bytes), nil
}

// Issue creates a new session for the given doctor.
func (m *Manager) Issue(doctorID string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		Token:     token,
		DoctorID:  doctorID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[token] = s
	m.mu.Unlock()

	log.Printf("SESSION_ISSUED | doctor=%s ttl=%v", doctorID, m.ttl)
	return s, nil
}

// Resolve returns the doctor ID for a live token. Expired tokens are removed
// on sight.
func (m *Manager) Resolve(token string) (string, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()

	if !ok {
		return "", ErrSessionNotFound
	}
	if time.Now().After(s.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return "", ErrSessionNotFound
	}
	return s.DoctorID, nil
}

// Revoke removes a session. Revoking an unknown token is a no-op.
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *Manager) Sweep() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("SESSION_SWEEP | removed=%d live=%d", removed, len(m.sessions))
	}
	return removed
}

// StartSweeper runs Sweep periodically until ctx is canceled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Len returns the number of tracked sessions, expired included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
