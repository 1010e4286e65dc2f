// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

// Package metering implements fixed-window numeric averagers, used for
// per-command invocation statistics and uptime reporting.
package metering

import (
	"sync"
	"time"
)

// Meter is a fixed-capacity ring of int64 samples. Recording a sample
// overwrites the oldest one once the ring is full; the average is taken
// over however many slots are currently filled.
type Meter struct {
	sync.Mutex

	samples []int64
	next    int
	filled  int
}

// NewMeter returns a Meter holding at most `capacity` samples.
func NewMeter(capacity int) *Meter {
	if capacity < 1 {
		capacity = 1
	}
	return &Meter{
		samples: make([]int64, capacity),
	}
}

// Record adds a sample, evicting the oldest one if the ring is full.
func (m *Meter) Record(value int64) {
	m.Lock()
	defer m.Unlock()

	m.samples[m.next] = value
	m.next = (m.next + 1) % len(m.samples)
	if m.filled < len(m.samples) {
		m.filled++
	}
}

// Count returns how many samples are currently held.
func (m *Meter) Count() int {
	m.Lock()
	defer m.Unlock()
	return m.filled
}

// Average returns the integer mean of the held samples (sum/count, which
// truncates toward zero); zero if no samples have been recorded.
func (m *Meter) Average() int64 {
	m.Lock()
	defer m.Unlock()

	if m.filled == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < m.filled; i++ {
		sum += m.samples[i]
	}
	return sum / int64(m.filled)
}

// Reset discards all samples without resizing the ring.
func (m *Meter) Reset() {
	m.Lock()
	defer m.Unlock()
	m.next = 0
	m.filled = 0
}

// IntervalMeter counts events per fixed interval, retaining the counts of
// the most recent intervals in a ring with the same eviction behavior as
// Meter. Each call to CloseInterval ends the current interval; counts for
// intervals older than the ring capacity are discarded.
type IntervalMeter struct {
	sync.Mutex

	counts  []int64
	current int64
	next    int
	filled  int
	started time.Time
}

// NewIntervalMeter returns an IntervalMeter retaining at most `capacity`
// closed intervals.
func NewIntervalMeter(capacity int) *IntervalMeter {
	if capacity < 1 {
		capacity = 1
	}
	return &IntervalMeter{
		counts:  make([]int64, capacity),
		started: time.Now().UTC(),
	}
}

// Record counts an event against the current interval.
func (im *IntervalMeter) Record() {
	im.Lock()
	defer im.Unlock()
	im.current++
}

// CloseInterval ends the current interval, pushing its count into the ring.
func (im *IntervalMeter) CloseInterval() {
	im.Lock()
	defer im.Unlock()

	im.counts[im.next] = im.current
	im.current = 0
	im.next = (im.next + 1) % len(im.counts)
	if im.filled < len(im.counts) {
		im.filled++
	}
}

// AveragePerInterval returns the integer mean count over the retained
// closed intervals; zero if no interval has been closed yet.
func (im *IntervalMeter) AveragePerInterval() int64 {
	im.Lock()
	defer im.Unlock()

	if im.filled == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < im.filled; i++ {
		sum += im.counts[i]
	}
	return sum / int64(im.filled)
}

// Started returns when this meter began counting; used for uptime reports.
func (im *IntervalMeter) Started() time.Time {
	im.Lock()
	defer im.Unlock()
	return im.started
}

// Reset clears all retained counts and the current interval without
// resizing the ring.
func (im *IntervalMeter) Reset() {
	im.Lock()
	defer im.Unlock()
	im.current = 0
	im.next = 0
	im.filled = 0
	im.started = time.Now().UTC()
}
