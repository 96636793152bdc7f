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
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMonitoring exposes every registered metric on /metrics, used by
// a full peer whenever a metrics port is configured.
type PrometheusMonitoring struct {
	Namespace string
	Port      uint16

	registry *prometheus.Registry
	server   *http.Server
	timer    *Timer

	mu          sync.RWMutex
	gaugeDict   map[string]prometheus.Gauge
	counterDict map[string]prometheus.Counter
	histoDict   map[string]prometheus.Histogram
}

func NewPrometheusMonitoring(namespace string, port uint16) *PrometheusMonitoring {
	return &PrometheusMonitoring{
		Namespace:   namespace,
		Port:        port,
		registry:    prometheus.NewRegistry(),
		timer:       NewTimer(),
		gaugeDict:   map[string]prometheus.Gauge{},
		counterDict: map[string]prometheus.Counter{},
		histoDict:   map[string]prometheus.Histogram{},
	}
}

func (pm *PrometheusMonitoring) NewCounter(name, description string) (Counter, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	c := promauto.With(pm.registry).NewCounter(prometheus.CounterOpts{
		Namespace: pm.Namespace, Name: name, Help: description,
	})
	pm.counterDict[name] = c
	return c, nil
}

func (pm *PrometheusMonitoring) GetCounter(name string) (Counter, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	c, ok := pm.counterDict[name]
	return c, ok
}

func (pm *PrometheusMonitoring) NewGauge(name, description string) (Gauge, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	g := promauto.With(pm.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: pm.Namespace, Name: name, Help: description,
	})
	pm.gaugeDict[name] = g
	return g, nil
}

func (pm *PrometheusMonitoring) GetGauge(name string) (Gauge, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	g, ok := pm.gaugeDict[name]
	return g, ok
}

func (pm *PrometheusMonitoring) NewHistogram(name, description string, buckets []float64) (Histogram, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	h := promauto.With(pm.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: pm.Namespace, Name: name, Help: description, Buckets: buckets,
	})
	pm.histoDict[name] = h
	return h, nil
}

func (pm *PrometheusMonitoring) GetHistogram(name string) (Histogram, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	h, ok := pm.histoDict[name]
	return h, ok
}

func (pm *PrometheusMonitoring) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{}))
	pm.server = &http.Server{Addr: ":" + strconv.Itoa(int(pm.Port)), Handler: mux}
	go func() {
		_ = pm.server.ListenAndServe()
	}()
	return nil
}

func (pm *PrometheusMonitoring) Stop() {
	if pm.server != nil {
		_ = pm.server.Shutdown(context.Background())
	}
}

func (pm *PrometheusMonitoring) Info() string {
	return "prometheus monitoring on :" + strconv.Itoa(int(pm.Port))
}

func (pm *PrometheusMonitoring) Timer() *Timer { return pm.timer }
