package analysis

import (
	"testing"
	"time"
)

func TestWindowStoreEvictsOldest(t *testing.T) {
	w := NewWindowStore(100)
	now := time.Now()

	for i := 0; i < 150; i++ {
		w.Append("speed", float64(i), now.Add(time.Duration(i)*time.Second))
	}

	if got := w.Len("speed"); got != 100 {
		t.Fatalf("Len = %d, want 100", got)
	}

	series := w.Series("speed")
	for i, v := range series {
		if want := float64(50 + i); v != want {
			t.Fatalf("series[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestWindowStoreNeverExceedsCapacity(t *testing.T) {
	w := NewWindowStore(10)
	for i := 0; i < 500; i++ {
		w.Append("x", float64(i), time.Now())
		if w.Len("x") > 10 {
			t.Fatalf("length %d exceeds capacity after %d appends", w.Len("x"), i+1)
		}
	}
}

func TestWindowStoreLatest(t *testing.T) {
	w := NewWindowStore(5)

	if _, ok := w.Latest("empty"); ok {
		t.Error("Latest on empty channel reported a value")
	}

	w.Append("x", 1, time.Now())
	w.Append("x", 2, time.Now())
	if v, ok := w.Latest("x"); !ok || v != 2 {
		t.Errorf("Latest = %v, %v; want 2, true", v, ok)
	}
}

func TestWindowStoreChannelsSorted(t *testing.T) {
	w := NewWindowStore(5)
	w.Append("b", 1, time.Now())
	w.Append("a", 1, time.Now())
	w.Append("c", 1, time.Now())

	got := w.Channels()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Channels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Channels() = %v, want %v", got, want)
		}
	}
}

func TestWindowStoreReset(t *testing.T) {
	w := NewWindowStore(5)
	w.Append("x", 1, time.Now())
	w.Reset()
	if got := w.Len("x"); got != 0 {
		t.Errorf("Len after Reset = %d, want 0", got)
	}
}

func TestWindowStoreSeriesIsCopy(t *testing.T) {
	w := NewWindowStore(5)
	w.Append("x", 1, time.Now())
	s := w.Series("x")
	s[0] = 99
	if v, _ := w.Latest("x"); v != 1 {
		t.Errorf("mutating returned series changed the store: %v", v)
	}
}
