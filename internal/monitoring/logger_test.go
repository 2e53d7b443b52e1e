package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var captured []string
	SetLogger(func(format string, v ...interface{}) {
		captured = append(captured, fmt.Sprintf(format, v...))
	})

	Logf("rally start at %.2fs", 5.25)
	Logf("segment kept [%.1f, %.1f]", 3.0, 10.5)

	if len(captured) != 2 {
		t.Fatalf("captured %d log lines, want 2", len(captured))
	}
	if captured[0] != "rally start at 5.25s" {
		t.Errorf("first line = %q", captured[0])
	}

	// Nil installs a no-op sink.
	SetLogger(nil)
	Logf("dropped track %s", "abc")

	if len(captured) != 2 {
		t.Errorf("no-op sink still captured output, got %d lines", len(captured))
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("frame %d processed", 42)
}
