package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelFromEnv(t *testing.T) {
	cases := []struct {
		env  string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"  debug  ", zerolog.DebugLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		t.Setenv("LOG_LEVEL", tc.env)
		if got := levelFromEnv(); got != tc.want {
			t.Errorf("levelFromEnv() with LOG_LEVEL=%q = %v, want %v", tc.env, got, tc.want)
		}
	}
}
