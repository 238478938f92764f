package mail

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("smtp", func(t *testing.T) {
		transport, err := NewFromConfig(context.Background(), &Config{
			Provider: "smtp",
			SMTP:     SMTPConfig{Host: "localhost", Port: 1025, From: "test@example.com"},
		}, logger)
		require.NoError(t, err)
		assert.IsType(t, &SMTPTransport{}, transport)
	})

	t.Run("smtp without host", func(t *testing.T) {
		_, err := NewFromConfig(context.Background(), &Config{Provider: "smtp"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host is empty")
	})

	t.Run("ses without region", func(t *testing.T) {
		_, err := NewFromConfig(context.Background(), &Config{Provider: "ses"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "region is empty")
	})

	t.Run("empty provider disables mail", func(t *testing.T) {
		transport, err := NewFromConfig(context.Background(), &Config{}, logger)
		require.NoError(t, err)
		assert.Nil(t, transport)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewFromConfig(context.Background(), &Config{Provider: "pigeon"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown mail provider")
	})
}

func TestFailure(t *testing.T) {
	outcome := Failure("smtp_550", "mailbox unavailable")

	assert.False(t, outcome.OK)
	assert.Equal(t, "smtp_550", outcome.ErrorCode)
	assert.Equal(t, "mailbox unavailable", outcome.ErrorMessage)
}
