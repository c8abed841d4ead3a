// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/jeranaias/doctor-assist/internal/auth"
	"github.com/jeranaias/doctor-assist/internal/storage"
)

// ============================================================================
// ACCOUNT TYPES
// ============================================================================

// MinPasswordLength is the minimum accepted password length for signup.
const MinPasswordLength = 6

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string     `json:"token"`
	Doctor doctorInfo `json:"doctor"`
}

type doctorInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// ============================================================================
// SIGNUP / LOGIN HANDLERS
// ============================================================================

// handleSignup handles POST /api/auth/signup.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	store := s.accountStore()
	if store == nil {
		s.writeError(w, http.StatusInternalServerError, "Signup error")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	if req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}
	if len(req.Password) < MinPasswordLength {
		s.writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	hash, err := auth.HashSecret(req.Password)
	if err != nil {
		log.Printf("SIGNUP_HASH_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Signup error")
		return
	}

	doctor, err := store.CreateDoctor(r.Context(), req.Email, hash)
	if errors.Is(err, storage.ErrDuplicateEmail) {
		s.writeError(w, http.StatusConflict, "Doctor already exists")
		return
	}
	if err != nil {
		log.Printf("SIGNUP_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create doctor")
		return
	}

	log.Printf("SIGNUP_OK | doctor=%s", doctor.ID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleLogin handles POST /api/auth/login.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	store := s.accountStore()
	if store == nil {
		s.writeError(w, http.StatusInternalServerError, "Login error")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	doctor, err := store.DoctorByEmail(r.Context(), req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		log.Printf("LOGIN_LOOKUP_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Login error")
		return
	}

	if !auth.CompareSecret(doctor.PasswordHash, req.Password) {
		log.Printf("LOGIN_DENIED | doctor=%s", doctor.ID)
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	session, err := s.sessions.Issue(doctor.ID)
	if err != nil {
		log.Printf("LOGIN_SESSION_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Login error")
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:  session.Token,
		Doctor: doctorInfo{ID: doctor.ID, Email: doctor.Email},
	})
}

// ============================================================================
// HISTORY PIN HANDLERS
// ============================================================================

// handlePINStatus handles GET /api/history/pin-status.
func (s *Server) handlePINStatus(w http.ResponseWriter, r *http.Request) {
	doctor, ok := s.requireDoctor(w, r)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"hasPin": doctor.HasHistoryPIN()})
}

// handleCreatePIN handles POST /api/history/create-pin.
// A PIN can be created once; there is no change-PIN surface.
func (s *Server) handleCreatePIN(w http.ResponseWriter, r *http.Request) {
	doctor, ok := s.requireDoctor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "PIN must be exactly 4 digits")
		return
	}
	if err := auth.ValidatePIN(req.PIN); err != nil {
		s.writeError(w, http.StatusBadRequest, "PIN must be exactly 4 digits")
		return
	}

	if doctor.HasHistoryPIN() {
		s.writeError(w, http.StatusBadRequest, "PIN already exists")
		return
	}

	hash, err := auth.HashSecret(req.PIN)
	if err != nil {
		log.Printf("PIN_HASH_FAILED | doctor=%s error=%v", doctor.ID, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save PIN")
		return
	}

	if err := s.accountStore().SetHistoryPIN(r.Context(), doctor.ID, hash); err != nil {
		log.Printf("PIN_SAVE_FAILED | doctor=%s error=%v", doctor.ID, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save PIN")
		return
	}

	log.Printf("PIN_CREATED | doctor=%s", doctor.ID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleVerifyPIN handles POST /api/history/verify-pin.
// The response always carries a "valid" field; a malformed PIN or an account
// without a PIN is invalid, not an authorization failure.
func (s *Server) handleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	doctor, ok := s.requireDoctor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": "Invalid PIN format"})
		return
	}
	if err := auth.ValidatePIN(req.PIN); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": "Invalid PIN format"})
		return
	}

	if !doctor.HasHistoryPIN() {
		s.writeJSON(w, http.StatusBadRequest, map[string]bool{"valid": false})
		return
	}

	valid := auth.CompareSecret(doctor.HistoryPINHash, req.PIN)
	if !valid {
		log.Printf("PIN_VERIFY_DENIED | doctor=%s", doctor.ID)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// ============================================================================
// SESSION HELPERS
// ============================================================================

// requireDoctor resolves the bearer session and loads the account. On any
// failure it writes the response and returns ok=false.
func (s *Server) requireDoctor(w http.ResponseWriter, r *http.Request) (*storage.Doctor, bool) {
	store := s.accountStore()
	if store == nil {
		s.writeError(w, http.StatusInternalServerError, "Server error")
		return nil, false
	}

	token, ok := bearerToken(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}

	doctorID, err := s.sessions.Resolve(token)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}

	doctor, err := store.DoctorByID(r.Context(), doctorID)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Doctor not found")
		return nil, false
	}
	if err != nil {
		log.Printf("DOCTOR_LOOKUP_FAILED | doctor=%s error=%v", doctorID, err)
		s.writeError(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}

	return doctor, true
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", false
	}
	return token, true
}

// accountStore returns the store under the server lock.
func (s *Server) accountStore() *storage.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}
