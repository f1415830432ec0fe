package debug

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLogDisabledWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	prev := Enabled()
	SetOutput(&buf)
	SetEnabled(false)
	t.Cleanup(func() { SetEnabled(prev) })

	Log("hello %d", 1)
	LogTiming("phase", time.Millisecond)
	LogEnterExit("fn")()
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestLogEnabledWritesPrefixedLines(t *testing.T) {
	var buf bytes.Buffer
	prev := Enabled()
	SetOutput(&buf)
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(prev) })

	Log("scanned %d branches", 3)
	LogTiming("git scan", 2*time.Millisecond)
	LogEnterExit("refresh")()

	out := buf.String()
	for _, want := range []string{"[canopy] ", "scanned 3 branches", "git scan took 2ms", "-> refresh", "<- refresh"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}
