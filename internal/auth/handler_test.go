package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state/repo"
)

type fakeProvider struct {
	exchangeErr  error
	profileErr   error
	subject      string
	exchangeCode string
	exchanges    int
}

func (p *fakeProvider) AuthorizationURL(st string, scopes []string) string {
	v := url.Values{"response_type": {"code"}, "state": {st}, "client_id": {"cid"}}
	return "https://idp.example.com/authorize?" + v.Encode()
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (*oauth.CredentialBundle, error) {
	p.exchanges++
	p.exchangeCode = code
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth.CredentialBundle{AccessToken: "at"}, nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, _ string) (*oauth.Profile, error) {
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	return &oauth.Profile{SubjectID: p.subject, Email: p.subject + "@example.com"}, nil
}

type failingStore struct{}

func (failingStore) Create(context.Context) (string, error)       { return "", errors.New("store down") }
func (failingStore) Consume(context.Context, string) (bool, error) { return false, errors.New("store down") }

type fixture struct {
	h        *Handler
	provider *fakeProvider
	codec    *session.Codec
	states   *state.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec := newCodec(t, nil)
	p := &fakeProvider{subject: "u1"}
	states := state.NewService(repo.NewMemoryRepo(), 10*time.Minute, nil)
	h := NewHandler(states, p, codec, HandlerConfig{
		Cookies: CookieConfig{SessionName: "session", StateName: "oauth_state", Secure: true, SessionMaxAge: time.Hour},
		Scopes:  []string{"openid"},
	}, nil)
	return &fixture{h: h, provider: p, codec: codec, states: states}
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// stateCookieFor is the cookie a browser would send back for the login that
// created nonce.
func stateCookieFor(nonce, value string) *http.Cookie {
	return &http.Cookie{Name: stateCookieName("oauth_state", nonce), Value: value}
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	nonce := loc.Query().Get("state")
	require.NotEmpty(t, nonce)
	c := cookieNamed(rec, stateCookieName("oauth_state", nonce))
	require.NotNil(t, c)
	require.Equal(t, nonce, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	return nonce
}

func (f *fixture) callback(query string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.h.Callback(rec, req)
	return rec
}

func TestCallbackSuccess(t *testing.T) {
	f := newFixture(t)
	nonce := f.login(t)

	rec := f.callback("code=VALID&state="+url.QueryEscape(nonce), stateCookieFor(nonce, nonce))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, "VALID", f.provider.exchangeCode)

	c := cookieNamed(rec, "session")
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, 3600, c.MaxAge)
	s, err := f.codec.Verify(c.Value)
	require.NoError(t, err)
	assert.Equal(t, "u1", s.SubjectID)
	assert.Equal(t, "u1@example.com", s.Email)

	cleared := cookieNamed(rec, stateCookieName("oauth_state", nonce))
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestCallbackStateReplay(t *testing.T) {
	f := newFixture(t)
	nonce := f.login(t)
	q := "code=VALID&state=" + url.QueryEscape(nonce)

	require.Equal(t, "/", f.callback(q, stateCookieFor(nonce, nonce)).Header().Get("Location"))
	rec := f.callback(q, stateCookieFor(nonce, nonce))
	assert.Equal(t, "/failure", rec.Header().Get("Location"))
	assert.Nil(t, cookieNamed(rec, "session"))
	assert.Equal(t, 1, f.provider.exchanges)
}

func TestCallbackFailedFlowSpendsNonce(t *testing.T) {
	tests := []struct {
		name  string
		query func(nonce string) string
		sent  func(nonce string) *http.Cookie
	}{
		{
			name:  "provider denied",
			query: func(n string) string { return "error=access_denied&state=" + url.QueryEscape(n) },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
		{
			name:  "missing code",
			query: func(n string) string { return "state=" + url.QueryEscape(n) },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
		{
			name:  "cookie mismatch",
			query: func(n string) string { return "code=VALID&state=" + url.QueryEscape(n) },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, "something-else") },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			nonce := f.login(t)

			rec := f.callback(tc.query(nonce), tc.sent(nonce))
			require.Equal(t, "/failure", rec.Header().Get("Location"))

			// a well-formed retry with the same nonce must not log in
			rec = f.callback("code=VALID&state="+url.QueryEscape(nonce), stateCookieFor(nonce, nonce))
			assert.Equal(t, "/failure", rec.Header().Get("Location"))
			assert.Nil(t, cookieNamed(rec, "session"))
			assert.Zero(t, f.provider.exchanges)
		})
	}
}

func TestParallelLoginsInOneBrowser(t *testing.T) {
	f := newFixture(t)
	first := f.login(t)
	second := f.login(t)
	require.NotEqual(t, stateCookieName("oauth_state", first), stateCookieName("oauth_state", second))

	// the browser holds both cookies; either flow can finish
	jar := []*http.Cookie{stateCookieFor(first, first), stateCookieFor(second, second)}

	rec := f.callback("code=VALID&state="+url.QueryEscape(first), jar...)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	require.NotNil(t, cookieNamed(rec, "session"))

	rec = f.callback("code=VALID&state="+url.QueryEscape(second), jar...)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	require.NotNil(t, cookieNamed(rec, "session"))
	assert.Equal(t, 2, f.provider.exchanges)
}

func TestCallbackFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		query func(nonce string) string
		sent  func(nonce string) *http.Cookie
	}{
		{
			name:  "wrong state",
			query: func(string) string { return "code=X&state=WRONG" },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
		{
			name:  "wrong state matching cookie",
			query: func(string) string { return "code=X&state=WRONG" },
			sent:  func(string) *http.Cookie { return stateCookieFor("WRONG", "WRONG") },
		},
		{
			name:  "missing state cookie",
			query: func(n string) string { return "code=X&state=" + url.QueryEscape(n) },
		},
		{
			name:  "missing state",
			query: func(string) string { return "code=X" },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
		{
			name:  "code rejected",
			setup: func(f *fixture) { f.provider.exchangeErr = oauth.ErrProviderRejectedCode },
			query: func(n string) string { return "code=X&state=" + url.QueryEscape(n) },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
		{
			name:  "network error",
			setup: func(f *fixture) { f.provider.exchangeErr = oauth.ErrNetwork },
			query: func(n string) string { return "code=X&state=" + url.QueryEscape(n) },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
		{
			name:  "invalid token",
			setup: func(f *fixture) { f.provider.profileErr = oauth.ErrInvalidToken },
			query: func(n string) string { return "code=X&state=" + url.QueryEscape(n) },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
		{
			name:  "empty subject",
			setup: func(f *fixture) { f.provider.subject = "" },
			query: func(n string) string { return "code=X&state=" + url.QueryEscape(n) },
			sent:  func(n string) *http.Cookie { return stateCookieFor(n, n) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			nonce := f.login(t)
			var cookies []*http.Cookie
			if tc.sent != nil {
				cookies = append(cookies, tc.sent(nonce))
			}
			rec := f.callback(tc.query(nonce), cookies...)

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/failure", rec.Header().Get("Location"))
			assert.Nil(t, cookieNamed(rec, "session"))
			assert.NotContains(t, rec.Body.String(), "network")
		})
	}
}

func TestLoginStoreFailure(t *testing.T) {
	h := NewHandler(failingStore{}, &fakeProvider{}, newCodec(t, nil), HandlerConfig{}, nil)
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/failure", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestLogoutClearsCookies(t *testing.T) {
	f := newFixture(t)
	pending := []*http.Cookie{stateCookieFor("nonce-aaaaaaaaaaaaaaaa", "a"), stateCookieFor("nonce-bbbbbbbbbbbbbbbb", "b")}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: "x"})
		req.AddCookie(&http.Cookie{Name: "other", Value: "keep"})
		for _, c := range pending {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		f.h.Logout(rec, req)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
		for _, name := range []string{"session", pending[0].Name, pending[1].Name} {
			c := cookieNamed(rec, name)
			require.NotNil(t, c, name)
			assert.Equal(t, -1, c.MaxAge)
			assert.Empty(t, c.Value)
		}
		assert.Nil(t, cookieNamed(rec, "other"))
	}
}

func TestStateCookieName(t *testing.T) {
	assert.Equal(t, "oauth_state_0123456789abcdef", stateCookieName("oauth_state", "0123456789abcdefXYZ"))
	assert.Equal(t, "oauth_state_short", stateCookieName("oauth_state", "short"))
}

func TestFlowStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending_callback", PendingCallback.String())
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", FlowState(42).String())
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "provider_rejected_code", errorClass(oauth.ErrProviderRejectedCode))
	assert.Equal(t, "network", errorClass(oauth.ErrNetwork))
	assert.Equal(t, "provider", errorClass(oauth.ErrProvider))
	assert.Equal(t, "invalid_token", errorClass(oauth.ErrInvalidToken))
	assert.Equal(t, "unknown", errorClass(errors.New("x")))
}
