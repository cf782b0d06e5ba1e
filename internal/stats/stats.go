package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater exposes relay counters over expvar. Updates funnel through a
// channel so counting never contends with the hot path.
type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan counterUpdate
}

type counterUpdate struct {
	name  string
	delta int64
}

// NewStatsUpdater creates a stats updater and mounts its handler on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan counterUpdate, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = expvar.NewMap("relay-stats")

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	json.NewEncoder(w).Encode(data)
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- counterUpdate{name: name, delta: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updateChan <- counterUpdate{name: name, delta: -1}
}

func (su *StatsUpdater) Run() {
	go su.applyUpdates()
}

func (su *StatsUpdater) applyUpdates() {
	for upd := range su.updateChan {
		metric, ok := su.vars.Get(upd.name).(*expvar.Int)
		if ok {
			metric.Add(upd.delta)
		}
	}
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}
