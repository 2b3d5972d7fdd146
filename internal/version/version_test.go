package version

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	oldV, oldC := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldV, oldC })

	Version, GitCommit = "1.2.3", "abc1234"
	ua := UserAgent()
	if !strings.HasPrefix(ua, "listbridge/1.2.3 (commit abc1234; go") {
		t.Fatalf("UserAgent = %q", ua)
	}
	if s := String("listbridge-server"); !strings.HasPrefix(s, "listbridge-server 1.2.3 (commit=abc1234") {
		t.Fatalf("String = %q", s)
	}
}
