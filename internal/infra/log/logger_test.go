package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	cases := []struct {
		env  string
		want zerolog.Level
	}{
		{"dev", zerolog.DebugLevel},
		{"prod", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := newLogger(tc.env, &bytes.Buffer{}).GetLevel(); got != tc.want {
			t.Fatalf("%s: ожидали уровень %s, получили %s", tc.env, tc.want, got)
		}
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger("prod", &buf), "permission_sync")
	logger.Info().Msg("permission_sync: старт")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("не удалось разобрать запись: %v", err)
	}
	if entry["component"] != "permission_sync" || entry["env"] != "prod" {
		t.Fatalf("ожидали поля component и env, получили %v", entry)
	}
}
