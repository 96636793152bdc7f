/* -*- coding: utf-8 -*-
* ------------------------------------------------------------------------------
*
*   Copyright 2018-2021 Fetch.AI Limited
*
*   Licensed under the Apache License, Version 2.0 (the "License");
*   you may not use this file except in compliance with the License.
*   You may obtain a copy of the License at
*
*       http://www.apache.org/licenses/LICENSE-2.0
*
*   Unless required by applicable law or agreed to in writing, software
*   distributed under the License is distributed on an "AS IS" BASIS,
*   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*   See the License for the specific language governing permissions and
*   limitations under the License.
*
* ------------------------------------------------------------------------------
 */

package monitoring

import "testing"

func TestFileMonitoringCounterAndGauge(t *testing.T) {
	fm := NewFileMonitoring("test_ns", false)

	counter, err := fm.NewCounter(MetricOpRouteCountAll, "all routes")
	if err != nil {
		t.Fatal("creating counter failed", err)
	}
	counter.Inc()
	counter.Add(2)

	got, ok := fm.GetCounter(MetricOpRouteCountAll)
	if !ok {
		t.Fatal("expected to find the registered counter")
	}
	if got.(*FileCounter).Get() != 3 {
		t.Fatalf("expected counter value 3, got %v", got.(*FileCounter).Get())
	}

	gauge, err := fm.NewGauge(MetricServiceRelayClientsCount, "relay clients")
	if err != nil {
		t.Fatal("creating gauge failed", err)
	}
	gauge.Set(5)
	gauge.Dec()
	gauge.Add(10)

	gotGauge, ok := fm.GetGauge(MetricServiceRelayClientsCount)
	if !ok {
		t.Fatal("expected to find the registered gauge")
	}
	if gotGauge.(*FileGauge).Get() != 14 {
		t.Fatalf("expected gauge value 14, got %v", gotGauge.(*FileGauge).Get())
	}
}

func TestFileMonitoringUnknownMetric(t *testing.T) {
	fm := NewFileMonitoring("test_ns", false)
	if _, ok := fm.GetCounter("does-not-exist"); ok {
		t.Fatal("expected no counter to be found for an unregistered name")
	}
}

func TestFileHistogramObserve(t *testing.T) {
	fm := NewFileMonitoring("test_ns", false)
	h, err := fm.NewHistogram(MetricOpLatencyRoute, "route latency", []float64{100, 1000})
	if err != nil {
		t.Fatal("creating histogram failed", err)
	}

	fh := h.(*FileHistogram)
	fh.Observe(50)
	fh.Observe(500)
	fh.Observe(5000)

	if fh.counts[0] != 1 {
		t.Fatalf("expected bucket <=100 to have 1 observation, got %d", fh.counts[0])
	}
	if fh.counts[1] != 2 {
		t.Fatalf("expected bucket <=1000 to have 2 cumulative observations, got %d", fh.counts[1])
	}
	if fh.counts[2] != 3 {
		t.Fatalf("expected the trailing +Inf bucket to count every observation (3), got %d", fh.counts[2])
	}
}

func TestTimerElapsed(t *testing.T) {
	tm := NewTimer()
	start := tm.NewTimer()
	if d := tm.GetTimer(start); d < 0 {
		t.Fatalf("expected non-negative elapsed duration, got %v", d)
	}
}

func TestTimerNamedRoundTrip(t *testing.T) {
	tm := NewTimer()
	name := tm.NewTimerNamed("route-1")
	if _, err := tm.GetTimerNamed(name); err != nil {
		t.Fatal("expected named timer to be found", err)
	}
	if _, err := tm.GetTimerNamed(name); err == nil {
		t.Fatal("expected named timer to be consumed after first retrieval")
	}
}

func TestFileMonitoringStopWithoutStartIsSafe(t *testing.T) {
	fm := NewFileMonitoring("test_ns", true)
	fm.Stop()
}
