package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'UTC'", quoteLiteral("UTC"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
	assert.Equal(t, "''", quoteLiteral(""))
}

func TestSessionSettings(t *testing.T) {
	assert.Empty(t, sessionSettings(Config{}))
	assert.Equal(t, []string{
		"SET TIME ZONE 'Asia/Shanghai'",
		"SET client_encoding = 'UTF8'",
	}, sessionSettings(Config{TimeZone: "Asia/Shanghai", ClientEncoding: "UTF8"}))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := ConfigFromEnv()
	assert.Contains(t, cfg.DSN, "localhost:5432")
	assert.Equal(t, 5, cfg.MaxConns)

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/auth")
	assert.Equal(t, "postgres://u:p@db:5432/auth", ConfigFromEnv().DSN)
}
