package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, &Config{Format: "text"}, slog.LevelInfo))
	logger.Info("test message", "key", "value")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "key=value")
}

func TestConsoleHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, &Config{Format: "json"}, slog.LevelInfo))
	logger.Info("test message", "key", "value")

	assert.Contains(t, buf.String(), `"msg":"test message"`)
	assert.Contains(t, buf.String(), `"key":"value"`)
}

func TestConsoleHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, &Config{Format: "text"}, slog.LevelWarn))
	logger.Info("should not appear")
	logger.Warn("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestConsoleHandler_Redacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, &Config{Format: "json"}, slog.LevelInfo))
	logger.Info("stored",
		"access_token", "AAAAAAAAAAAAxyz",
		"client_secret", "short",
		"Code_Verifier", "verifier-value-123",
		"client_id", "visible-client",
	)

	out := buf.String()
	assert.Contains(t, out, `"access_token":"AAAAAA..."`)
	assert.Contains(t, out, `"client_secret":"******"`)
	assert.Contains(t, out, `"Code_Verifier":"verifi..."`)
	assert.Contains(t, out, `"client_id":"visible-client"`)
	assert.NotContains(t, out, "AAAAAAAAAAAAxyz")
	assert.NotContains(t, out, "verifier-value-123")
}

func TestConsoleHandler_RedactsInGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, &Config{Format: "text"}, slog.LevelInfo))
	logger.Info("pair", slog.Group("tokens", "refresh_token", "rt-1234567890"))

	assert.Contains(t, buf.String(), "tokens.refresh_token=rt-123...")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "******", Mask(""))
	assert.Equal(t, "******", Mask("abc"))
	assert.Equal(t, "abcdef...", Mask("abcdefghijkl"))
	assert.Equal(t, Mask("abcdefghijkl"), Mask(Mask("abcdefghijkl")))
}
