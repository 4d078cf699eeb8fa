package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Environment: "production", ServiceName: "expenses", Version: "1.0.0", Output: &buf})

	log.Debug().Msg("hidden")
	log.Info().Str("approval_id", "a1").Msg("Approval advanced")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"approval_id":"a1"`)
	assert.Contains(t, out, `"service":"expenses"`)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	scoped := zerolog.New(&buf).With().Str("request_id", "r1").Logger()
	ctx := WithContext(context.Background(), scoped)

	l := FromContext(ctx, Nop())
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"r1"`)

	// Falls back without panicking.
	fallback := FromContext(context.Background(), nil)
	fallback.Info().Msg("dropped")
}
