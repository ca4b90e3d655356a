package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "v1.4.0"
	if got := UserAgent(); !strings.HasPrefix(got, "stackpack/1.4.0 (") {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, want := range []string{"version: ", "commit: ", "built: ", "go: "} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q: %s", want, s)
		}
	}
}
