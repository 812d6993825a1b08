// Package identity resolves who is making a request: verified claims from
// the fronting auth proxy, or an anonymous per-device identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/store"
)

const (
	AnonCookieName   = "pal_anon_id"
	UserIDHeader     = "X-Auth-User-ID"
	UserNameHeader   = "X-Auth-User-Name"
	UserEmailHeader  = "X-Auth-User-Email"
	anonCookieMaxAge = 30 * 24 * time.Hour
	maxNameLength    = 200
)

type contextKey int

const identityKey contextKey = iota

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@|-]{1,128}$`)
)

// ErrInvalidClaims is returned when identity headers are present but malformed.
var ErrInvalidClaims = errors.New("invalid identity claims")

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) domain.Identity {
	if v, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return v
	}
	return domain.Identity{}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	return FromContext(ctx).UserID
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// ClaimsFromRequest reads the auth proxy headers. ok is false when no
// user header is present.
func ClaimsFromRequest(r *http.Request) (id domain.Identity, ok bool, err error) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		return domain.Identity{}, false, nil
	}
	if !userIDPattern.MatchString(userID) || isValidAnonID(userID) {
		return domain.Identity{}, true, fmt.Errorf("%w: bad user id", ErrInvalidClaims)
	}

	name := strings.TrimSpace(r.Header.Get(UserNameHeader))
	if len(name) > maxNameLength || strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return domain.Identity{}, true, fmt.Errorf("%w: bad name", ErrInvalidClaims)
	}

	email := strings.TrimSpace(r.Header.Get(UserEmailHeader))
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return domain.Identity{}, true, fmt.Errorf("%w: bad email", ErrInvalidClaims)
		}
	}

	return domain.Identity{UserID: userID, Name: name, Email: email}, true, nil
}

func ensureUser(ctx context.Context, repo store.UserStore, id domain.Identity) error {
	user, err := repo.GetUser(ctx, id.UserID)
	if err != nil {
		return err
	}

	now := time.Now()
	if user == nil {
		return repo.UpsertUser(ctx, &domain.User{
			UserID:     id.UserID,
			Name:       id.Name,
			Email:      id.Email,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := repo.UpdateLastSeen(ctx, id.UserID, now); err != nil {
		slog.Warn("Failed to update last seen", "user_id", id.UserID, "error", err)
	}
	return nil
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// Middleware attaches the caller's identity to the request context.
// Malformed claim headers are rejected with 401 before any handler runs.
func Middleware(repo store.UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok, err := ClaimsFromRequest(r)
			if err != nil {
				slog.Warn("Rejected identity claims", "ip", IPFromRequest(r), "error", err)
				http.Error(w, `{"error":"invalid identity"}`, http.StatusUnauthorized)
				return
			}
			if !ok {
				anonID, err := getOrCreateAnonID(w, r, isDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				id = domain.Identity{UserID: anonID}
			}

			if err := ensureUser(r.Context(), repo, id); err != nil {
				slog.Error("Failed to initialize user", "user_id", id.UserID, "error", err)
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
