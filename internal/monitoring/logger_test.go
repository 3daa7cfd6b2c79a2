package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerCaptures(t *testing.T) {
	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	defer SetLogger(nil)

	Logf("tick %d", 7)
	if len(got) != 1 || got[0] != "tick 7" {
		t.Errorf("captured = %v, want [tick 7]", got)
	}
}

func TestSetLoggerNilIsNoop(t *testing.T) {
	SetLogger(nil)
	// must not panic
	Logf("dropped %s", "line")
}
