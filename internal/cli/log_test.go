package cli

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestNewLogger_Timestamp(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, log.InfoLevel).Info("fetched resource", "id", "reviewer")

	out := buf.String()
	if !regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{2} `).MatchString(out) {
		t.Errorf("missing HH:MM:SS.ms timestamp: %q", out)
	}
	if !strings.Contains(out, "fetched resource") || !strings.Contains(out, "id=reviewer") {
		t.Errorf("output = %q", out)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		level log.Level
		log   func(*log.Logger)
		want  bool
	}{
		{"warning at info", log.InfoLevel, func(l *log.Logger) { l.Warn("retrying download", "attempt", 1) }, true},
		{"hook event at info", log.InfoLevel, func(l *log.Logger) { l.Debug("resource complete", "id", "lint") }, false},
		{"hook event at debug", LogDebug, func(l *log.Logger) { l.Debug("resource complete", "id", "lint") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(newLogger(&buf, tt.level))
			if got := buf.Len() > 0; got != tt.want {
				t.Errorf("logged = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProgressDone(t *testing.T) {
	var buf bytes.Buffer
	prog := newProgress(newLogger(&buf, log.InfoLevel))
	time.Sleep(5 * time.Millisecond)

	prog.done("Resolved %d resources", 3)

	if !regexp.MustCompile(`Resolved 3 resources \(\d+ms\)`).MatchString(buf.String()) {
		t.Errorf("output = %q", buf.String())
	}
}
