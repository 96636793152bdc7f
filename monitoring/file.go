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

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileGauge/FileCounter/FileHistogram are plain in-memory metric cells; the
// only consumer that observes them is FileMonitoring's periodic dump.

type FileGauge struct {
	value float64
	lock  sync.RWMutex
}

func (fg *FileGauge) Set(value float64) { fg.lock.Lock(); fg.value = value; fg.lock.Unlock() }
func (fg *FileGauge) Get() float64      { fg.lock.RLock(); defer fg.lock.RUnlock(); return fg.value }
func (fg *FileGauge) Inc()              { fg.Add(1) }
func (fg *FileGauge) Dec()              { fg.Sub(1) }
func (fg *FileGauge) Add(count float64) { fg.lock.Lock(); fg.value += count; fg.lock.Unlock() }
func (fg *FileGauge) Sub(count float64) { fg.lock.Lock(); fg.value -= count; fg.lock.Unlock() }

type FileCounter struct {
	value float64
	lock  sync.RWMutex
}

func (fc *FileCounter) Inc()              { fc.Add(1) }
func (fc *FileCounter) Add(count float64) { fc.lock.Lock(); fc.value += count; fc.lock.Unlock() }
func (fc *FileCounter) Get() float64      { fc.lock.RLock(); defer fc.lock.RUnlock(); return fc.value }

type FileHistogram struct {
	buckets []float64
	counts  []uint64
	lock    sync.RWMutex
}

func (fh *FileHistogram) Observe(value float64) {
	fh.lock.Lock()
	defer fh.lock.Unlock()
	i := 0
	for i < len(fh.buckets) {
		if value <= fh.buckets[i] {
			fh.counts[i]++
		}
		i++
	}
	fh.counts[i]++
}

// FileMonitoring is the fallback monitoring service used when a node is
// configured without a Prometheus metrics port: a periodic human-readable
// dump of every gauge/counter to a namespaced ".stats" file, mirroring the
// teacher's file-based monitoring.
type FileMonitoring struct {
	Namespace string

	gaugeDict   map[string]*FileGauge
	counterDict map[string]*FileCounter
	histoDict   map[string]*FileHistogram
	mu          sync.RWMutex

	timer *Timer

	path    string
	write   bool
	closing chan struct{}
}

func NewFileMonitoring(namespace string, write bool) *FileMonitoring {
	cwd, _ := os.Getwd()
	return &FileMonitoring{
		Namespace:   namespace,
		gaugeDict:   map[string]*FileGauge{},
		counterDict: map[string]*FileCounter{},
		histoDict:   map[string]*FileHistogram{},
		timer:       NewTimer(),
		path:        cwd + "/" + namespace + ".stats",
		write:       write,
	}
}

func (fm *FileMonitoring) NewCounter(name, _ string) (Counter, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	c := &FileCounter{}
	fm.counterDict[name] = c
	return c, nil
}

func (fm *FileMonitoring) GetCounter(name string) (Counter, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	c, ok := fm.counterDict[name]
	return c, ok
}

func (fm *FileMonitoring) NewGauge(name, _ string) (Gauge, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	g := &FileGauge{}
	fm.gaugeDict[name] = g
	return g, nil
}

func (fm *FileMonitoring) GetGauge(name string) (Gauge, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	g, ok := fm.gaugeDict[name]
	return g, ok
}

func (fm *FileMonitoring) NewHistogram(name, _ string, buckets []float64) (Histogram, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	h := &FileHistogram{buckets: buckets, counts: make([]uint64, len(buckets)+1)}
	fm.histoDict[name] = h
	return h, nil
}

func (fm *FileMonitoring) GetHistogram(name string) (Histogram, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	h, ok := fm.histoDict[name]
	return h, ok
}

func (fm *FileMonitoring) Start() error {
	if fm.closing != nil || !fm.write {
		return nil
	}
	fm.closing = make(chan struct{})
	go func() {
		for {
			select {
			case <-fm.closing:
				return
			default:
				if err := os.WriteFile(fm.path, []byte(fm.getStats()), 0600); err != nil {
					// nothing downstream depends on the dump succeeding
				}
				time.Sleep(5 * time.Second)
			}
		}
	}()
	return nil
}

func (fm *FileMonitoring) Stop() {
	if fm.closing != nil {
		close(fm.closing)
		fm.closing = nil
	}
}

func (fm *FileMonitoring) getStats() string {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	var stats string
	for name, g := range fm.gaugeDict {
		stats += fmt.Sprintf("%s_%s %e\n", fm.Namespace, name, g.Get())
	}
	for name, c := range fm.counterDict {
		stats += fmt.Sprintf("%s_%s %e\n", fm.Namespace, name, c.Get())
	}
	return stats
}

func (fm *FileMonitoring) Info() string { return "file monitoring at " + fm.path }
func (fm *FileMonitoring) Timer() *Timer { return fm.timer }
