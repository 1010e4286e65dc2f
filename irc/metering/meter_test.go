// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package metering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeterAlternatingSamples(t *testing.T) {
	// an alternating +-k sequence centered on zero must average to zero
	for _, capacity := range []int{2, 8, 64} {
		m := NewMeter(capacity)
		for i := 0; i < capacity; i++ {
			if i%2 == 0 {
				m.Record(7)
			} else {
				m.Record(-7)
			}
		}
		assert.EqualValues(t, 0, m.Average(), "capacity %d", capacity)
	}
}

func TestMeterAscendingSamples(t *testing.T) {
	// 1..C averages to (C+1)/2 under integer division
	for _, capacity := range []int{1, 5, 10, 31} {
		m := NewMeter(capacity)
		for i := 1; i <= capacity; i++ {
			m.Record(int64(i))
		}
		assert.EqualValues(t, (capacity+1)/2, m.Average(), "capacity %d", capacity)
	}
}

func TestMeterEviction(t *testing.T) {
	m := NewMeter(3)
	m.Record(100)
	m.Record(1)
	m.Record(2)
	// 100 is the oldest sample and gets overwritten
	m.Record(3)
	assert.EqualValues(t, 2, m.Average())
	assert.Equal(t, 3, m.Count())
}

func TestMeterPartialFill(t *testing.T) {
	m := NewMeter(16)
	assert.EqualValues(t, 0, m.Average())
	m.Record(10)
	m.Record(20)
	assert.EqualValues(t, 15, m.Average())
	assert.Equal(t, 2, m.Count())
}

func TestMeterReset(t *testing.T) {
	m := NewMeter(4)
	m.Record(5)
	m.Record(5)
	m.Reset()
	assert.Equal(t, 0, m.Count())
	assert.EqualValues(t, 0, m.Average())
	// the ring is still usable at the same capacity
	for i := 0; i < 6; i++ {
		m.Record(3)
	}
	assert.Equal(t, 4, m.Count())
	assert.EqualValues(t, 3, m.Average())
}

func TestIntervalMeter(t *testing.T) {
	im := NewIntervalMeter(2)
	assert.EqualValues(t, 0, im.AveragePerInterval())

	im.Record()
	im.Record()
	im.CloseInterval()
	assert.EqualValues(t, 2, im.AveragePerInterval())

	im.Record()
	im.Record()
	im.Record()
	im.Record()
	im.CloseInterval()
	assert.EqualValues(t, 3, im.AveragePerInterval())

	// a third boundary evicts the first interval's count
	im.CloseInterval()
	assert.EqualValues(t, 2, im.AveragePerInterval())
}

func TestIntervalMeterReset(t *testing.T) {
	im := NewIntervalMeter(4)
	im.Record()
	im.CloseInterval()
	im.Reset()
	assert.EqualValues(t, 0, im.AveragePerInterval())
}
