package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestOperationIDRoundTrip(t *testing.T) {
	id := NewOperationID()
	assert.NotEmpty(t, id)

	ctx := WithOperationID(context.Background(), id)
	assert.Equal(t, id, OperationIDFrom(ctx))
}

func TestOperationIDFromEmptyContext(t *testing.T) {
	assert.Empty(t, OperationIDFrom(context.Background()))
}

func TestFromContextAttachesOperationID(t *testing.T) {
	base := slog.Default()
	ctx := WithOperationID(context.Background(), "op_test123")

	withID := FromContext(ctx, base)
	assert.NotNil(t, withID)

	withoutID := FromContext(context.Background(), base)
	assert.Same(t, base, withoutID)
}

func TestNewOperationIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewOperationID()
		assert.False(t, seen[id], "generated duplicate operation id %q", id)
		seen[id] = true
	}
}
