// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini provides a client for the Google Generative Language API.
//
// The client speaks the generateContent wire contract: an ordered list of
// role-tagged text parts goes out, and zero or more candidate completions
// come back. Extraction of a reply is total — any missing candidate, content,
// part, or text resolves to an empty Result rather than an error, so callers
// can distinguish "the provider had nothing to say" (degraded, Result.OK
// false) from "the provider could not be reached" (ErrUnavailable).
package gemini
