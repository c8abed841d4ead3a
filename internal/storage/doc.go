// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists doctor accounts for Doctor Assist.
//
// Accounts live in a single SQLite database (modernc.org/sqlite, pure Go,
// no cgo). The store only ever handles bcrypt digests — hashing happens in
// the auth package before anything reaches this layer.
//
// # Key Types
//
//   - Store: account persistence backed by database/sql
//   - Doctor: a registered account with optional history PIN hash
//
// # Usage
//
// Open a store and create an account:
//
//	store, err := storage.Open(dbPath)
//	doc, err := store.CreateDoctor(ctx, email, passwordHash)
//
// Lookups return ErrNotFound when no row matches; duplicate signups return
// ErrDuplicateEmail.
package storage
