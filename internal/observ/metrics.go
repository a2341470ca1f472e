package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// maxSamples bounds each histogram series so long-running loops don't grow memory.
const maxSamples = 1024

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	s := append(m[k], value)
	if len(s) > maxSamples {
		s = s[len(s)-maxSamples:]
	}
	m[k] = s
}

// RecordDuration records a duration metric in milliseconds.
func RecordDuration(name string, d time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(d.Milliseconds()), labels)
}

// CounterValue reads a single counter series; zero when absent.
func CounterValue(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.counters[name][canonLabels(labels)]
}

// GaugeValue reads a single gauge series.
func GaugeValue(name string, labels map[string]string) (float64, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	v, ok := reg.gauges[name][canonLabels(labels)]
	return v, ok
}

// Dump is a point-in-time copy of the registry.
type Dump struct {
	Counters map[string]map[string]int64     `json:"counters"`
	Gauges   map[string]map[string]float64   `json:"gauges"`
	Hist     map[string]map[string][]float64 `json:"histograms"`
}

func Snapshot() Dump {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	d := Dump{
		Counters: make(map[string]map[string]int64, len(reg.counters)),
		Gauges:   make(map[string]map[string]float64, len(reg.gauges)),
		Hist:     make(map[string]map[string][]float64, len(reg.hist)),
	}
	for name, series := range reg.counters {
		cp := make(map[string]int64, len(series))
		for k, v := range series {
			cp[k] = v
		}
		d.Counters[name] = cp
	}
	for name, series := range reg.gauges {
		cp := make(map[string]float64, len(series))
		for k, v := range series {
			cp[k] = v
		}
		d.Gauges[name] = cp
	}
	for name, series := range reg.hist {
		cp := make(map[string][]float64, len(series))
		for k, v := range series {
			cp[k] = append([]float64(nil), v...)
		}
		d.Hist[name] = cp
	}
	return d
}

// Reset clears every series. Tests use it to isolate counters.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = fresh.counters
	reg.gauges = fresh.gauges
	reg.hist = fresh.hist
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Snapshot())
	})
}
