package version

import (
	"strings"
	"testing"
)

func TestStringIncludesAllBuildFields(t *testing.T) {
	got := String()
	for _, part := range []string{Version, Commit, BuildDate} {
		if !strings.Contains(got, part) {
			t.Fatalf("version string %q missing %q", got, part)
		}
	}
}
