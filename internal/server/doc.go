// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the Doctor Assist HTTP API.
//
// Endpoints:
//   - POST /api/ai                 - clinical chat relay (rate limited)
//   - POST /api/auth/signup        - doctor account creation
//   - POST /api/auth/login         - credential login, returns a bearer token
//   - GET  /api/history/pin-status - whether a history PIN is set
//   - POST /api/history/create-pin - create the 4-digit history PIN
//   - POST /api/history/verify-pin - check a history PIN
//   - GET  /health                 - health check
//   - GET  /stats                  - relay usage statistics
//
// The relay makes at most one generation call per request. Upstream failures
// map to a single opaque 500; a reachable provider with nothing to say maps
// to a 200 with a fixed fallback reply.
package server
