package flow

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"tokenledger/log"
	"tokenledger/metrics"
)

func TestTracker(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)

	ctx := log.WithFlowID(context.Background(), "f00")
	var seen []Stage
	tr := NewTracker(ctx, "test", func(s Stage) { seen = append(seen, s) })
	tr.Set(ctx, Verifying)
	tr.Set(ctx, Done)

	if tr.Stage() != Done {
		t.Errorf("Stage() = %s want done", tr.Stage())
	}
	if len(seen) != 3 || seen[0] != Generating || seen[2] != Done {
		t.Errorf("observer saw %v", seen)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines want 3:\n%s", len(lines), buf.String())
	}
	for _, want := range []string{"flowid=f00", "flow=test", "stage=verifying", `message="Verifying contract constraints."`, "at=tracker_test.go:"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("log line %q missing %q", lines[1], want)
		}
	}
	if got := metrics.Latency("flow.test.generating").Snapshot().Count; got != 1 {
		t.Errorf("generating latency count = %d want 1", got)
	}
}
