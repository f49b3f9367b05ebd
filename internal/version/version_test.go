package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestSummary(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version = "v1.2.3"
	GitCommit = "0123456789abcdef"

	got := Summary()
	if !strings.HasPrefix(got, "sinkcam v1.2.3 (0123456, ") {
		t.Errorf("Summary() = %q", got)
	}
	if !strings.Contains(got, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Summary() = %q, missing platform", got)
	}
	if String() != "v1.2.3" {
		t.Errorf("String() = %q", String())
	}
}
