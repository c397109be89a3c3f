// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAndGauge(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), c.Value())

	c.Add(-300)
	assert.Equal(t, int64(500), c.Value())
	c.Reset()
	assert.Zero(t, c.Value())

	var g Gauge
	g.Set(4)
	g.Add(-1)
	assert.Equal(t, int64(3), g.Value())
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram()
	assert.Zero(t, h.Stats().Avg)

	for _, d := range []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		200 * time.Millisecond,
		5 * time.Second,
	} {
		h.Record(d)
	}

	s := h.Stats()
	assert.Equal(t, int64(4), s.Count)
	assert.Equal(t, 5*time.Millisecond, s.Min)
	assert.Equal(t, 5*time.Second, s.Max)
	assert.Equal(t, (5215*time.Millisecond)/4, s.Avg)
	require.Len(t, s.Buckets, len(latencyBounds)+1)
	// Bounds are exclusive upper limits.
	assert.Equal(t, []int64{1, 1, 0, 1, 0, 0, 0, 1}, s.Buckets)

	h.Reset()
	s = h.Stats()
	assert.Zero(t, s.Count)
	assert.Zero(t, s.Min)
	assert.Equal(t, make([]int64, len(latencyBounds)+1), s.Buckets)
}

func TestMetricsSnapshotAndReset(t *testing.T) {
	m := NewMetrics()
	m.RequestsSent.Add(3)
	m.Retransmissions.Inc()
	m.SegmentsReceived.Add(9)
	m.ActiveTransactions.Set(2)
	m.RequestLatency.Record(time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.RequestsSent)
	assert.Equal(t, int64(1), s.Retransmissions)
	assert.Equal(t, int64(9), s.SegmentsReceived)
	assert.Equal(t, int64(2), s.ActiveTransactions)
	assert.Equal(t, int64(1), s.LatencyStats.Count)

	m.Reset()
	s = m.Snapshot()
	assert.Zero(t, s.RequestsSent)
	assert.Zero(t, s.Retransmissions)
	assert.Zero(t, s.SegmentsReceived)
	assert.Zero(t, s.ActiveTransactions)
	assert.Zero(t, s.LatencyStats.Count)
}
