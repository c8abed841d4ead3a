// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "doctors.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateDoctor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.CreateDoctor(ctx, "Dr.House@Example.com", "hash-1")
	if err != nil {
		t.Fatalf("CreateDoctor() error = %v", err)
	}
	if d.ID == "" {
		t.Error("CreateDoctor() returned empty ID")
	}
	if d.Email != "dr.house@example.com" {
		t.Errorf("email = %q, want lowercased", d.Email)
	}
	if d.HasHistoryPIN() {
		t.Error("new account should have no history PIN")
	}
}

func TestStore_CreateDoctor_DuplicateEmail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateDoctor(ctx, "doc@example.com", "h1"); err != nil {
		t.Fatalf("first CreateDoctor() error = %v", err)
	}

	// Same address with different casing is still a duplicate.
	_, err := s.CreateDoctor(ctx, "DOC@example.com", "h2")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("error = %v, want ErrDuplicateEmail", err)
	}
}

func TestStore_DoctorByEmail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, _ := s.CreateDoctor(ctx, "doc@example.com", "h1")

	got, err := s.DoctorByEmail(ctx, "DOC@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("DoctorByEmail() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}

	if _, err := s.DoctorByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing lookup error = %v, want ErrNotFound", err)
	}
}

func TestStore_DoctorByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, _ := s.CreateDoctor(ctx, "doc@example.com", "h1")

	got, err := s.DoctorByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("DoctorByID() error = %v", err)
	}
	if got.Email != "doc@example.com" {
		t.Errorf("Email = %q", got.Email)
	}

	if _, err := s.DoctorByID(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing lookup error = %v, want ErrNotFound", err)
	}
}

func TestStore_SetHistoryPIN(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, _ := s.CreateDoctor(ctx, "doc@example.com", "h1")

	if err := s.SetHistoryPIN(ctx, created.ID, "pin-hash"); err != nil {
		t.Fatalf("SetHistoryPIN() error = %v", err)
	}

	got, _ := s.DoctorByID(ctx, created.ID)
	if !got.HasHistoryPIN() || got.HistoryPINHash != "pin-hash" {
		t.Errorf("history PIN hash = %q, want pin-hash", got.HistoryPINHash)
	}

	// Overwriting an existing PIN is allowed.
	if err := s.SetHistoryPIN(ctx, created.ID, "pin-hash-2"); err != nil {
		t.Fatalf("second SetHistoryPIN() error = %v", err)
	}
	got, _ = s.DoctorByID(ctx, created.ID)
	if got.HistoryPINHash != "pin-hash-2" {
		t.Errorf("history PIN hash = %q after overwrite", got.HistoryPINHash)
	}

	if err := s.SetHistoryPIN(ctx, "no-such-id", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetHistoryPIN for missing id = %v, want ErrNotFound", err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doctors.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	created, _ := s.CreateDoctor(ctx, "doc@example.com", "h1")
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	got, err := s2.DoctorByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("DoctorByID() after reopen error = %v", err)
	}
	if got.Email != "doc@example.com" {
		t.Errorf("Email after reopen = %q", got.Email)
	}
}
