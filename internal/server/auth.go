package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ptrks/coedit/internal/log"
	"github.com/ptrks/coedit/internal/model"
	"github.com/ptrks/coedit/internal/protocol"
	"github.com/ptrks/coedit/internal/store"
)

const tokenTTL = 7 * 24 * time.Hour

type ctxUIDKey struct{}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// uid -> token, err
func (s *Server) signJWT(uid string) (string, error) {
	claims := Claims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// token -> uid, ok
func (s *Server) parseJWT(token string) (string, bool) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", false
	}
	if claims, ok := parsed.Claims.(*Claims); ok && parsed.Valid {
		return claims.UID, true
	}
	return "", false
}

// authed wraps a handler and requires a Bearer token. The caller's user
// id ends up in the request context.
func (s *Server) authed(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(r.Header.Get("Authorization"), "Bearer ", 2)
		if len(parts) != 2 {
			writeError(w, http.StatusUnauthorized, protocol.CodeAuthRequired, "authentication required")
			return
		}

		uid, ok := s.parseJWT(parts[1])
		if !ok {
			writeError(w, http.StatusUnauthorized, protocol.CodeAuthRequired, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUIDKey{}, uid)
		next(w, r.WithContext(ctx))
	}
}

func callerUID(r *http.Request) string {
	uid, _ := r.Context().Value(ctxUIDKey{}).(string)
	return uid
}

type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeValidation, "email and password are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to register")
		return
	}

	user := model.NewUser(strings.ToLower(creds.Email), string(hash))
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusConflict, protocol.CodeEmailTaken, "email already registered")
			return
		}
		log.FromContext(r.Context()).Error("register", "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to register")
		return
	}

	token, err := s.signJWT(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to register")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeValidation, "bad request body")
		return
	}

	user, err := s.store.UserByEmail(r.Context(), creds.Email)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, protocol.CodeAuthRequired, "invalid credentials")
		return
	}
	if err != nil {
		log.FromContext(r.Context()).Error("login", "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "login failed")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		writeError(w, http.StatusUnauthorized, protocol.CodeAuthRequired, "invalid credentials")
		return
	}

	token, err := s.signJWT(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}
