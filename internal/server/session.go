package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session id cookie set when a book is started. The host proxy
// asserts the wiki identity through the X-Wiki-User header.
const (
	sessionCookieName   = "bindery_session"
	wikiUserHeader      = "X-Wiki-User"
	requestIDTokenBytes = 16
)

type requestContextKey string

const (
	sessionIDContextKey requestContextKey = "sessionID"
	wikiUserContextKey  requestContextKey = "wikiUser"
	realIPContextKey    requestContextKey = "realIP"
	requestIDContextKey requestContextKey = "requestID"
)

func (*App) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, err := randomToken(requestIDTokenBytes)
		if err != nil {
			requestID = strconv.FormatInt(time.Now().UnixNano(), 10)
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (*App) withRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := realIPFromRequest(r)
		ctx := context.WithValue(r.Context(), realIPContextKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (*App) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		w.Header().Set(
			"Content-Security-Policy",
			"default-src 'self'; script-src 'self'; style-src 'self'; "+
				"img-src 'self' data:; connect-src 'self'; object-src 'none'; "+
				"base-uri 'self'; form-action 'self'",
		)

		next.ServeHTTP(w, r)
	})
}

// withSession lifts the session cookie and the asserted wiki identity
// into the request context. No store access happens here; handlers
// load the snapshot themselves when they need it.
func (*App) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		cookie, err := r.Cookie(sessionCookieName)
		if err == nil {
			id := strings.TrimSpace(cookie.Value)
			if _, parseErr := uuid.Parse(id); parseErr == nil {
				ctx = context.WithValue(ctx, sessionIDContextKey, id)
			}
		}

		user := strings.TrimSpace(r.Header.Get(wikiUserHeader))
		if user != "" {
			ctx = context.WithValue(ctx, wikiUserContextKey, user)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) setSessionCookie(w http.ResponseWriter, id string) {
	maxAge := int(a.cfg.SessionTTL.Seconds())

	cookie := new(http.Cookie)
	cookie.Name = sessionCookieName
	cookie.Value = id
	cookie.Path = "/"
	cookie.MaxAge = maxAge
	cookie.Expires = time.Now().Add(a.cfg.SessionTTL)
	cookie.HttpOnly = true
	cookie.SameSite = http.SameSiteLaxMode
	http.SetCookie(w, cookie)
}

func sessionIDFromRequest(r *http.Request) string {
	raw := r.Context().Value(sessionIDContextKey)
	if raw == nil {
		return ""
	}

	id, ok := raw.(string)
	if !ok {
		return ""
	}

	return id
}

func wikiUserFromRequest(r *http.Request) (string, bool) {
	raw := r.Context().Value(wikiUserContextKey)
	if raw == nil {
		return "", false
	}

	user, ok := raw.(string)
	if !ok || user == "" {
		return "", false
	}

	return user, true
}

func realIPFromRequest(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}

	return strings.TrimSpace(r.RemoteAddr)
}

// bearerTokenMatches compares the Authorization header against the
// expected token in constant time.
func bearerTokenMatches(r *http.Request, expected string) bool {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))

	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(expected)) == 1
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)

	err := encoder.Encode(value)
	if err != nil {
		http.Error(w, "failed to write json", http.StatusInternalServerError)

		return
	}
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("read random token bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
