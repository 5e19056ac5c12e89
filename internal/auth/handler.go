package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state"
)

// Provider is the identity provider as seen by the login flow.
type Provider interface {
	AuthorizationURL(state string, scopes []string) string
	ExchangeCode(ctx context.Context, code string) (*oauth.CredentialBundle, error)
	FetchProfile(ctx context.Context, accessToken string) (*oauth.Profile, error)
}

// Issuer mints session cookie values.
type Issuer interface {
	IssueFor(subjectID, email string) (string, error)
}

type CookieConfig struct {
	SessionName   string
	// StateName prefixes the per-login state cookies.
	StateName     string
	Secure        bool
	SessionMaxAge time.Duration
	StateMaxAge   time.Duration
}

type HandlerConfig struct {
	Cookies     CookieConfig
	Scopes      []string
	SuccessPath string
	FailurePath string
}

// Handler serves /auth/login, /auth/callback and /auth/logout.
type Handler struct {
	states   state.Store
	provider Provider
	issuer   Issuer
	cfg      HandlerConfig
	logger   *zap.SugaredLogger
}

func NewHandler(states state.Store, provider Provider, issuer Issuer, cfg HandlerConfig, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Cookies.SessionName == "" {
		cfg.Cookies.SessionName = "session"
	}
	if cfg.Cookies.StateName == "" {
		cfg.Cookies.StateName = "oauth_state"
	}
	if cfg.Cookies.StateMaxAge <= 0 {
		cfg.Cookies.StateMaxAge = 10 * time.Minute
	}
	if cfg.SuccessPath == "" {
		cfg.SuccessPath = "/"
	}
	if cfg.FailurePath == "" {
		cfg.FailurePath = "/failure"
	}
	return &Handler{states: states, provider: provider, issuer: issuer, cfg: cfg, logger: logger}
}

// stateCookieKeyLen is how much of the nonce goes into the state cookie name.
// Each login gets its own cookie so parallel attempts in one browser do not
// overwrite each other.
const stateCookieKeyLen = 16

func stateCookieName(prefix, nonce string) string {
	if len(nonce) > stateCookieKeyLen {
		nonce = nonce[:stateCookieKeyLen]
	}
	return prefix + "_" + nonce
}

// Login starts a flow: Idle -> PendingCallback.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	f := h.newFlow()
	nonce, err := h.states.Create(r.Context())
	if err != nil {
		f.fail("state_store", err)
		http.Redirect(w, r, h.cfg.FailurePath, http.StatusFound)
		return
	}
	h.setCookie(w, stateCookieName(h.cfg.Cookies.StateName, nonce), nonce, h.cfg.Cookies.StateMaxAge)
	f.to(PendingCallback)
	http.Redirect(w, r, h.provider.AuthorizationURL(nonce, h.cfg.Scopes), http.StatusFound)
}

// Callback finishes a flow: PendingCallback -> Authenticated | Failed.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	f := h.newFlow()
	f.to(PendingCallback)

	q := r.URL.Query()
	nonce := q.Get("state")
	fail := func(reason string, err error) {
		f.fail(reason, err)
		if nonce != "" {
			h.clearCookie(w, stateCookieName(h.cfg.Cookies.StateName, nonce))
		}
		http.Redirect(w, r, h.cfg.FailurePath, http.StatusFound)
	}
	if nonce == "" {
		fail("missing_state", nil)
		return
	}

	// the nonce is spent on first presentation, whatever else is wrong
	// with the request
	ok, consumeErr := h.states.Consume(r.Context(), nonce)

	if pe := q.Get("error"); pe != "" {
		fail("provider_denied", errors.New(pe))
		return
	}
	code := q.Get("code")
	if code == "" {
		fail("missing_code", nil)
		return
	}
	c, err := r.Cookie(stateCookieName(h.cfg.Cookies.StateName, nonce))
	if err != nil || subtle.ConstantTimeCompare([]byte(c.Value), []byte(nonce)) != 1 {
		fail("state_cookie_mismatch", nil)
		return
	}
	if consumeErr != nil {
		fail("state_store", consumeErr)
		return
	}
	if !ok {
		fail("state_invalid", nil)
		return
	}

	creds, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		fail(errorClass(err), err)
		return
	}
	profile, err := h.provider.FetchProfile(r.Context(), creds.AccessToken)
	if err != nil {
		fail(errorClass(err), err)
		return
	}
	value, err := h.issuer.IssueFor(profile.SubjectID, profile.Email)
	if err != nil {
		fail("session_issue", err)
		return
	}

	h.setCookie(w, h.cfg.Cookies.SessionName, value, h.cfg.Cookies.SessionMaxAge)
	h.clearCookie(w, stateCookieName(h.cfg.Cookies.StateName, nonce))
	f.to(Authenticated)
	f.logger.Infow("login succeeded", "subject", profile.SubjectID)
	http.Redirect(w, r, h.cfg.SuccessPath, http.StatusFound)
}

// Logout clears the session cookie and every pending state cookie, whatever
// state the browser is in.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, h.cfg.Cookies.SessionName)
	prefix := h.cfg.Cookies.StateName + "_"
	for _, c := range r.Cookies() {
		if strings.HasPrefix(c.Name, prefix) {
			h.clearCookie(w, c.Name)
		}
	}
	http.Redirect(w, r, h.cfg.SuccessPath, http.StatusFound)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
		c.Expires = time.Now().Add(maxAge)
	}
	http.SetCookie(w, c)
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// errorClass names a provider or session error for logs only.
func errorClass(err error) string {
	switch {
	case errors.Is(err, oauth.ErrProviderRejectedCode):
		return "provider_rejected_code"
	case errors.Is(err, oauth.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, oauth.ErrNetwork):
		return "network"
	case errors.Is(err, oauth.ErrProvider):
		return "provider"
	case errors.Is(err, session.ErrMalformed):
		return "session_malformed"
	default:
		return "unknown"
	}
}
