package obs

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitBuildInfoReplacesLabels(t *testing.T) {
	InitBuildInfo("0.1.0", "abc123")
	InitBuildInfo("0.2.0", "def456")

	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected one build_info series, got %d", n)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("0.2.0", "def456", runtime.Version())); v != 1 {
		t.Fatalf("build_info=%v, want 1", v)
	}
}

func TestResolveCommitKeepsExplicitValue(t *testing.T) {
	if got := resolveCommit("4f2a9c1"); got != "4f2a9c1" {
		t.Fatalf("resolveCommit=%q", got)
	}
	if got := resolveCommit("dev"); got == "" {
		t.Fatal("resolveCommit returned an empty commit")
	}
}
