package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fenggwsx/PostBoard/internal/auth"
	"github.com/fenggwsx/PostBoard/internal/storage"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidPayload     = errors.New("invalid auth payload")
)

type claimsKey struct{}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
}

func (a *App) handleSignup(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auth payload")
		return
	}
	user, err := a.createUser(r.Context(), req)
	if err != nil {
		log.Printf("signup failed user=%s remote=%s err=%v", strings.TrimSpace(req.Username), r.RemoteAddr, err)
		a.reportAuthError(w, err)
		return
	}
	log.Printf("signup success user=%s id=%d remote=%s", user.Username, user.ID, r.RemoteAddr)
	a.issueToken(w, http.StatusCreated, user)
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auth payload")
		return
	}
	user, err := a.authenticateUser(r.Context(), req)
	if err != nil {
		log.Printf("login failed user=%s remote=%s err=%v", strings.TrimSpace(req.Username), r.RemoteAddr, err)
		a.reportAuthError(w, err)
		return
	}
	log.Printf("login success user=%s id=%d remote=%s", user.Username, user.ID, r.RemoteAddr)
	a.issueToken(w, http.StatusOK, user)
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(claimsKey{}).(*auth.Claims)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  claims.UserID,
		"username": claims.Username,
	})
}

// requireToken rejects requests without a valid bearer token.
func (a *App) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := auth.ParseToken(a.cfg.JWT, strings.TrimSpace(token))
		if err != nil {
			log.Printf("token rejected remote=%s err=%v", r.RemoteAddr, err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (a *App) issueToken(w http.ResponseWriter, status int, user *storage.User) {
	token, err := auth.NewToken(a.cfg.JWT, user.ID, user.Username, time.Now())
	if err != nil {
		log.Printf("token issue: %v", err)
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, status, tokenResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt.Unix(),
		UserID:    user.ID,
		Username:  user.Username,
	})
}

func (a *App) createUser(ctx context.Context, req credentialsRequest) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &storage.User{
		Username:  username,
		Email:     strings.TrimSpace(req.Email),
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (a *App) authenticateUser(ctx context.Context, req credentialsRequest) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.Password, password); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}

func (a *App) reportAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrUserExists):
		writeError(w, http.StatusConflict, "username already exists")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errInvalidPayload):
		writeError(w, http.StatusBadRequest, "username and password required")
	case errors.Is(err, errInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		writeError(w, http.StatusInternalServerError, "authentication failed")
	}
}

func sanitizeCredentials(req credentialsRequest) (string, string, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return "", "", errInvalidPayload
	}
	return username, req.Password, nil
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}
