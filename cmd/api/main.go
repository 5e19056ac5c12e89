package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/pkg/utilities"
)

func main() {
	// best-effort: real environment wins when no .env exists
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go-stdlib")

	cfg, err := config.ConfigFromEnv()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	ring, err := session.NewKeyRing(cfg.SessionKeys...)
	if err != nil {
		sugar.Fatalf("session keys: %v", err)
	}
	codec, err := session.NewCodec(ring, cfg.SessionMaxAge)
	if err != nil {
		sugar.Fatalf("session codec: %v", err)
	}
	sugar.Infow("session key ring loaded", "keys", ring.Len(), "primary_kid", ring.Primary().ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateRepo, closeRepo, err := state.OpenRepo(ctx, cfg.StateStore, cfg.RedisAddr, database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("state store %s: %v", cfg.StateStore, err)
	}
	defer closeRepo()
	states := state.NewService(stateRepo, cfg.StateTTL, sugar.Named("state"))
	go states.RunJanitor(ctx, time.Minute)

	provider := oauth.NewClient(oauth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		ProfileURL:   cfg.ProfileURL,
		AccessType:   cfg.AccessType,
		Prompt:       cfg.Prompt,
		SubjectField: cfg.ProfileSubjectField,
		EmailField:   cfg.ProfileEmailField,
		Timeout:      cfg.ProviderTimeout,
		MaxAttempts:  cfg.ProviderMaxAttempts,
	}, sugar.Named("oauth"))

	mw := auth.NewMiddleware(codec, cfg.SessionCookieName, sugar.Named("auth"))
	login := auth.NewHandler(states, provider, codec, auth.HandlerConfig{
		Cookies: auth.CookieConfig{
			SessionName:   cfg.SessionCookieName,
			StateName:     "oauth_state",
			Secure:        cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
			StateMaxAge:   cfg.StateTTL,
		},
		Scopes: cfg.Scopes,
	}, sugar.Named("login"))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.RegisterRoutes(router.Deps{Logger: sugar, Auth: mw, Login: login}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.TLSEnabled() {
			sugar.Infow("listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			sugar.Infow("listening", "addr", srv.Addr, "tls", false)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for in-flight requests
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
