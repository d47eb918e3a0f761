package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/shared"
)

const (
	DemoEmail    = "demo@jobtrack.dev"
	DemoPassword = "demo123"
)

type user struct {
	ID              string
	Username        string
	Email           string
	CompanyName     string
	CompanyDocument string
	passwordHash    []byte
}

// userStore keeps accounts by email.
type userStore struct {
	mu      sync.RWMutex
	byEmail map[string]*user
}

func newUserStore() *userStore {
	return &userStore{byEmail: make(map[string]*user)}
}

func (s *userStore) add(req services.RegisterRequest) (*user, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	u := &user{
		ID:              shared.GenerateID(),
		Username:        req.Username,
		Email:           email,
		CompanyName:     req.CompanyName,
		CompanyDocument: req.CompanyDocument,
		passwordHash:    hash,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return nil, shared.ErrInvalidInput
	}
	s.byEmail[email] = u
	return u, nil
}

// authenticate returns the user when email and password match.
func (s *userStore) authenticate(email, password string) (*user, bool) {
	s.mu.RLock()
	u, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return nil, false
	}
	return u, true
}

func (s *userStore) byID(id string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, true
		}
	}
	return nil, false
}

func (s *userStore) setPassword(u *user, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u.passwordHash = hash
	return nil
}

func (s *Server) authResponse(u *user) (services.AuthResponse, error) {
	token, exp, err := s.tokens.issue(u)
	if err != nil {
		return services.AuthResponse{}, err
	}
	return services.AuthResponse{
		AccessToken:     token,
		UserID:          u.ID,
		Username:        u.Username,
		Email:           u.Email,
		CompanyName:     u.CompanyName,
		CompanyDocument: u.CompanyDocument,
		ExpiresAt:       exp.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	u, ok := s.users.authenticate(req.Email, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	resp, err := s.authResponse(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// refresh swaps a token that is live, or expired within the grace period, for a new one.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
		return
	}

	c, err := s.tokens.parseForRefresh(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	u, ok := s.users.byID(c.Subject)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown user")
		return
	}

	token, exp, err := s.tokens.issue(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.tokens.revoke(c)
	writeJSON(w, http.StatusOK, services.AuthResponse{AccessToken: token, ExpiresAt: exp.UTC().Format(time.RFC3339)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.tokens.revoke(caller(r).claims)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if _, err := s.users.add(req); err != nil {
		writeError(w, http.StatusBadRequest, "EMAIL_TAKEN", "an account with this email already exists")
		return
	}
	writeJSON(w, http.StatusCreated, services.AuthResponse{Message: "account created"})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req services.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	u := caller(r).user
	if _, ok := s.users.authenticate(u.Email, req.CurrentPassword); !ok {
		writeError(w, http.StatusBadRequest, "INVALID_PASSWORD", "current password is incorrect")
		return
	}
	if err := s.users.setPassword(u, req.NewPassword); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, services.AuthResponse{Message: "password changed"})
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": message}})
}
