package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	DefaultProfileURL = "https://openidconnect.googleapis.com/v1/userinfo"

	defaultTimeout        = 5 * time.Second
	defaultMaxAttempts    = 2
	defaultInitialBackoff = 200 * time.Millisecond
	maxProfileBytes       = 1 << 20
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// empty endpoints fall back to Google
	AuthURL    string
	TokenURL   string
	ProfileURL string

	AccessType string
	Prompt     string

	SubjectField string
	EmailField   string

	Timeout        time.Duration
	MaxAttempts    uint
	InitialBackoff time.Duration

	HTTPClient *http.Client
}

// Client talks to a single OAuth2 authorization server.
type Client struct {
	cfg    Config
	oauth  *oauth2.Config
	http   *http.Client
	logger *zap.SugaredLogger
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// credentials in the form body; auto-detect would post a rejected code twice
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = DefaultProfileURL
	}
	if cfg.SubjectField == "" {
		cfg.SubjectField = "sub"
	}
	if cfg.EmailField == "" {
		cfg.EmailField = "email"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
		},
		http:   hc,
		logger: logger,
	}
}

// AuthorizationURL returns the provider URL the browser is sent to. It
// carries client_id, redirect_uri, response_type=code, scope and state.
func (c *Client) AuthorizationURL(state string, scopes []string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("scope", strings.Join(scopes, " "))}
	if c.cfg.AccessType != "" {
		opts = append(opts, oauth2.SetAuthURLParam("access_type", c.cfg.AccessType))
	}
	if c.cfg.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", c.cfg.Prompt))
	}
	return c.oauth.AuthCodeURL(state, opts...)
}

// ExchangeCode redeems an authorization code at the token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*CredentialBundle, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrProviderRejectedCode)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	return retry(ctx, c, "exchange code", func(ctx context.Context) (*CredentialBundle, error) {
		tok, err := c.oauth.Exchange(ctx, code)
		if err != nil {
			return nil, classifyExchange(err)
		}
		b := &CredentialBundle{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.Type(),
			Expiry:       tok.Expiry,
		}
		if id, ok := tok.Extra("id_token").(string); ok {
			b.IDToken = id
		}
		return b, nil
	})
}

// FetchProfile loads the user's profile with the access token.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrInvalidToken)
	}
	return retry(ctx, c, "fetch profile", func(ctx context.Context) (*Profile, error) {
		return c.fetchProfile(ctx, accessToken)
	})
}

func (c *Client) fetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: profile status %d", ErrProvider, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: profile status %d", ErrInvalidToken, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: profile status %d", ErrProvider, resp.StatusCode)
	}

	var raw map[string]any
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		if isNetwork(err) {
			return nil, fmt.Errorf("%w: read profile: %v", ErrNetwork, err)
		}
		return nil, fmt.Errorf("%w: decode profile: %v", ErrProvider, err)
	}
	return c.mapProfile(raw)
}

func (c *Client) mapProfile(raw map[string]any) (*Profile, error) {
	p := &Profile{
		SubjectID: stringField(raw[c.cfg.SubjectField]),
		Name:      stringField(raw["name"]),
	}
	p.Email = stringField(raw[c.cfg.EmailField])
	switch v := raw["email_verified"].(type) {
	case bool:
		p.EmailVerified = v
	case string:
		p.EmailVerified, _ = strconv.ParseBool(v)
	}
	if p.SubjectID == "" {
		return nil, fmt.Errorf("%w: profile has no %q field", ErrInvalidToken, c.cfg.SubjectField)
	}
	return p, nil
}

// stringField accepts the string and numeric ids providers use in practice.
func stringField(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func classifyExchange(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && (re.Response.StatusCode >= 500 || re.Response.StatusCode == http.StatusTooManyRequests) {
			return fmt.Errorf("%w: token status %d", ErrProvider, re.Response.StatusCode)
		}
		return fmt.Errorf("%w: %s", ErrProviderRejectedCode, retrieveErrorCode(re))
	}
	if isNetwork(err) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	// unparseable body or a response without access_token
	return fmt.Errorf("%w: %v", ErrProvider, err)
}

func retrieveErrorCode(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	if re.Response != nil {
		return "status " + strconv.Itoa(re.Response.StatusCode)
	}
	return "unknown"
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// retry runs fn up to MaxAttempts times, each under its own timeout, backing
// off between attempts. Only ErrNetwork and ErrProvider are retried.
func retry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = 10 * c.cfg.InitialBackoff

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		v, err := fn(actx)
		if err == nil {
			return v, nil
		}
		if !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		c.logger.Debugw("provider call failed", "op", op, "attempt", attempt, "error", err)
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.MaxAttempts))
	if err != nil {
		// Retry returns the bare context error when ctx ends between attempts
		if !Retryable(err) && !errors.Is(err, ErrProviderRejectedCode) && !errors.Is(err, ErrInvalidToken) {
			err = fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return res, fmt.Errorf("%s after %d attempt(s): %w", op, attempt, err)
	}
	return res, nil
}
