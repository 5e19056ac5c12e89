package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/session"
)

func newRootCmd() *cobra.Command {
	var keys []string
	root := &cobra.Command{
		Use:          "sessionkey",
		Short:        "Manage session signing keys and inspect session cookies",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSliceVar(&keys, "keys", nil, "signing secrets, newest first (default $SESSION_KEYS)")

	ring := func() (*session.KeyRing, error) {
		secrets := keys
		if len(secrets) == 0 {
			if v := os.Getenv("SESSION_KEYS"); v != "" {
				secrets = strings.Split(v, ",")
			}
		}
		return session.NewKeyRing(secrets...)
	}

	root.AddCommand(newGenerateCmd(), newIssueCmd(ring), newInspectCmd(ring))
	return root
}

func newGenerateCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a random secret for SESSION_KEYS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 16 {
				return fmt.Errorf("--bytes must be at least 16, got %d", size)
			}
			buf := make([]byte, size)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.RawURLEncoding.EncodeToString(buf))
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 32, "number of random bytes")
	return cmd
}

func newIssueCmd(ring func() (*session.KeyRing, error)) *cobra.Command {
	var (
		maxAge time.Duration
		email  string
	)
	cmd := &cobra.Command{
		Use:   "issue <subject>",
		Short: "Issue a session cookie value for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ring()
			if err != nil {
				return err
			}
			codec, err := session.NewCodec(r, maxAge)
			if err != nil {
				return err
			}
			value, err := codec.IssueFor(args[0], email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "session lifetime")
	cmd.Flags().StringVar(&email, "email", "", "email to embed")
	return cmd
}

func newInspectCmd(ring func() (*session.KeyRing, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <cookie>",
		Short: "Verify a session cookie value against the key ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ring()
			if err != nil {
				return err
			}
			// max age only affects issuing
			codec, err := session.NewCodec(r, time.Hour)
			if err != nil {
				return err
			}
			s, err := codec.Verify(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", verdict(err), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  valid\n")
			fmt.Fprintf(out, "subject: %s\n", s.SubjectID)
			if s.Email != "" {
				fmt.Fprintf(out, "email:   %s\n", s.Email)
			}
			fmt.Fprintf(out, "id:      %s\n", s.ID)
			fmt.Fprintf(out, "issued:  %s\n", s.IssuedAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "expires: %s\n", s.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func verdict(err error) string {
	switch {
	case errors.Is(err, session.ErrExpired):
		return "expired"
	case errors.Is(err, session.ErrInvalidSignature):
		return "invalid signature"
	case errors.Is(err, session.ErrMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
