package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "pairchat.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Minute, cfg.Match.MaxWait)
	assert.Equal(t, time.Second, cfg.Match.PollInterval)
	assert.False(t, cfg.Match.ImmediateControl)
	assert.Equal(t, 3*time.Minute, cfg.Session.ChatDuration)
	assert.Equal(t, time.Second, cfg.Session.TimerTick)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.NotEmpty(t, cfg.Match.Starters)

	assert.Contains(t, cfg.Match.PriorityPairs, LangPair{A: "chinese", B: "english"})
	assert.Contains(t, cfg.Match.ControlPairs, LangPair{A: "english", B: "english"})
	assert.False(t, cfg.AI.Enabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/test.db")
	t.Setenv("MATCH_MAX_WAIT", "90s")
	t.Setenv("MATCH_IMMEDIATE_CONTROL", "true")
	t.Setenv("MATCH_PRIORITY_PAIRS", "English:French")
	t.Setenv("MATCH_CONTROL_PAIRS", "french:french")
	t.Setenv("CHAT_DURATION", "10m")
	t.Setenv("STARTER_PROMPTS", "What is your favorite season?;Coffee or tea?")
	t.Setenv("OVERFLOW_WEBHOOK_URL", " https://example.com/hook ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/test.db", cfg.Store.Path)
	assert.Equal(t, 90*time.Second, cfg.Match.MaxWait)
	assert.True(t, cfg.Match.ImmediateControl)
	assert.Equal(t, []LangPair{{A: "english", B: "french"}}, cfg.Match.PriorityPairs)
	assert.Equal(t, []LangPair{{A: "french", B: "french"}}, cfg.Match.ControlPairs)
	assert.Equal(t, 10*time.Minute, cfg.Session.ChatDuration)
	assert.Equal(t, []string{"What is your favorite season?", "Coffee or tea?"}, cfg.Match.Starters)
	assert.Equal(t, "https://example.com/hook", cfg.Notify.WebhookURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("malformed pair table", func(t *testing.T) {
		t.Setenv("MATCH_PRIORITY_PAIRS", "english-chinese")
		_, err := Load()
		assert.ErrorContains(t, err, "MATCH_PRIORITY_PAIRS")
	})

	t.Run("non-positive wait", func(t *testing.T) {
		t.Setenv("MATCH_MAX_WAIT", "0s")
		_, err := Load()
		assert.ErrorContains(t, err, "MATCH_MAX_WAIT")
	})

	t.Run("bad bool", func(t *testing.T) {
		t.Setenv("MATCH_IMMEDIATE_CONTROL", "maybe")
		_, err := Load()
		assert.ErrorContains(t, err, "MATCH_IMMEDIATE_CONTROL")
	})

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("PORT", "80 80")
		_, err := Load()
		assert.ErrorContains(t, err, "PORT")
	})
}

func TestServerConfigAcceptsFullAddr(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:3000")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3000", cfg.Server.Addr)
}

func TestLangPairNormalize(t *testing.T) {
	assert.Equal(t, LangPair{A: "chinese", B: "english"}, LangPair{A: " English ", B: "Chinese"}.Normalize())
	assert.Equal(t, LangPair{A: "english", B: "english"}, LangPair{A: "english", B: "english"}.Normalize())
}
