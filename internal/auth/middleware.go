package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/session"
)

const notLoggedIn = "You are not logged in"

// Verifier decodes a session cookie value.
type Verifier interface {
	Verify(value string) (*session.Session, error)
}

type ctxKey struct{}

// resolution records that the session cookie was already looked at for this
// request; s is nil for anonymous callers.
type resolution struct {
	s *session.Session
}

// Middleware derives the caller's identity from the session cookie.
type Middleware struct {
	codec      Verifier
	cookieName string
	logger     *zap.SugaredLogger
}

func NewMiddleware(codec Verifier, cookieName string, logger *zap.SugaredLogger) *Middleware {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Middleware{codec: codec, cookieName: cookieName, logger: logger}
}

// Authenticate returns the caller's session, or false for anonymous callers.
// Invalid cookies are treated as absent.
func (m *Middleware) Authenticate(r *http.Request) (*session.Session, bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	s, err := m.codec.Verify(c.Value)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSignature) {
			m.logger.Warnw("session signature mismatch, possible tampering",
				"remote", r.RemoteAddr, "path", r.URL.Path, "error", err)
		} else {
			m.logger.Debugw("session rejected", "path", r.URL.Path, "error", err)
		}
		return nil, false
	}
	return s, true
}

// SessionParsing resolves the session once and stores the result in the
// request context for handlers further down the chain.
func (m *Middleware) SessionParsing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := m.Authenticate(r)
		ctx := context.WithValue(r.Context(), ctxKey{}, &resolution{s: s})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth answers 401 for anonymous callers without calling next.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s *session.Session
		if res, ok := r.Context().Value(ctxKey{}).(*resolution); ok {
			s = res.s
		} else {
			s, _ = m.Authenticate(r)
		}
		if s == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": notLoggedIn})
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, &resolution{s: s})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the session resolved for this request, if any.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	res, ok := ctx.Value(ctxKey{}).(*resolution)
	if !ok || res.s == nil {
		return nil, false
	}
	return res.s, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
