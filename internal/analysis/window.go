// Package analysis implements the streaming telemetry analysis pipeline:
// fixed-capacity rolling sample windows, short-term trend estimation,
// statistical and fixed-rule anomaly detection, and recommendation
// synthesis.
package analysis

import (
	"sort"
	"time"
)

// Sample is one value on a channel's rolling window.
type Sample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// WindowStore keeps a fixed-capacity FIFO window of samples per channel.
// Not safe for concurrent use; the owning session serializes access.
type WindowStore struct {
	capacity int
	channels map[string][]Sample
}

// NewWindowStore creates a store whose per-channel windows hold at most
// capacity samples.
func NewWindowStore(capacity int) *WindowStore {
	if capacity < 1 {
		capacity = 1
	}
	return &WindowStore{
		capacity: capacity,
		channels: make(map[string][]Sample),
	}
}

// Append pushes a sample onto the channel's window, evicting the oldest
// sample once the window is full.
func (w *WindowStore) Append(channel string, value float64, ts time.Time) {
	buf := append(w.channels[channel], Sample{Value: value, Timestamp: ts})
	if len(buf) > w.capacity {
		// Shift rather than reslice so the backing array does not pin
		// evicted samples forever.
		copy(buf, buf[1:])
		buf = buf[:w.capacity]
	}
	w.channels[channel] = buf
}

// Series returns the channel's sample values in order, most recent last.
// The returned slice is a copy.
func (w *WindowStore) Series(channel string) []float64 {
	buf := w.channels[channel]
	out := make([]float64, len(buf))
	for i, s := range buf {
		out[i] = s.Value
	}
	return out
}

// Samples returns the channel's samples in order, most recent last.
func (w *WindowStore) Samples(channel string) []Sample {
	buf := w.channels[channel]
	out := make([]Sample, len(buf))
	copy(out, buf)
	return out
}

// Latest returns the channel's most recent value, or false when the
// window is empty.
func (w *WindowStore) Latest(channel string) (float64, bool) {
	buf := w.channels[channel]
	if len(buf) == 0 {
		return 0, false
	}
	return buf[len(buf)-1].Value, true
}

// Len returns the number of samples currently held for channel.
func (w *WindowStore) Len(channel string) int {
	return len(w.channels[channel])
}

// Channels returns the known channel names in sorted order.
func (w *WindowStore) Channels() []string {
	names := make([]string, 0, len(w.channels))
	for name := range w.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capacity returns the per-channel window capacity.
func (w *WindowStore) Capacity() int {
	return w.capacity
}

// Reset drops every window. Used on session start.
func (w *WindowStore) Reset() {
	w.channels = make(map[string][]Sample)
}
