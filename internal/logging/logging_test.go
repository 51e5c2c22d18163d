package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerParsesLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn"})
	if got := logger.GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", got)
	}
}

func TestNewLoggerDefaultsToInfoOnBadLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "loud"})
	if got := logger.GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("未知级别应回退 info, got %s", got)
	}
}

func TestLogWriterSelectsConsole(t *testing.T) {
	cases := []struct {
		name        string
		cfg         Config
		wantConsole bool
	}{
		{name: "json default", cfg: Config{Format: "json"}, wantConsole: false},
		{name: "console format", cfg: Config{Format: "console"}, wantConsole: true},
		{name: "text alias", cfg: Config{Format: "text"}, wantConsole: true},
		{name: "pretty overrides json", cfg: Config{Format: "json", PrettyPrint: true}, wantConsole: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, isConsole := logWriter(tc.cfg).(zerolog.ConsoleWriter)
			if isConsole != tc.wantConsole {
				t.Fatalf("console=%v, want %v", isConsole, tc.wantConsole)
			}
		})
	}
}

func TestLogWriterNoColor(t *testing.T) {
	writer, ok := logWriter(Config{Format: "console", NoColor: true}).(zerolog.ConsoleWriter)
	if !ok {
		t.Fatal("expected console writer")
	}
	if !writer.NoColor {
		t.Fatal("NoColor 应透传到 console writer")
	}
}
