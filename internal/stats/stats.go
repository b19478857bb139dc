package stats

import (
	"expvar"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// StatsProvider is the counter surface used by the meeting and the websocket
// server.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars    *expvar.Map
	started time.Time
	deltas  chan counterDelta
}

type counterDelta struct {
	name  string
	delta int64
}

// serveVars writes the meeting's counters as a flat JSON object.
func (su *StatsUpdater) serveVars(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		raw := kv.Value.String()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[kv.Key] = v
	})

	json.NewEncoder(w).Encode(out)
}

// NewStatsUpdater creates the meeting's expvar map and registers its handler
// on mux. expvar names are process global, so only one updater may exist per
// process.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    expvar.NewMap("gomeet-stats"),
		started: time.Now(),
		deltas:  make(chan counterDelta, 512),
	}
	su.vars.Set("UptimeMs", expvar.Func(func() any {
		return time.Since(su.started).Milliseconds()
	}))
	su.vars.Set("StartedAt", expvar.Func(func() any {
		return su.started.UTC().Format(time.RFC3339)
	}))
	mux.HandleFunc("GET /debug/vars", su.serveVars)

	return su
}

// apply drains deltas until Stop. Deltas for unregistered names are dropped.
func (su *StatsUpdater) apply() {
	for d := range su.deltas {
		if counter, ok := su.vars.Get(d.name).(*expvar.Int); ok {
			counter.Add(d.delta)
		}
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.deltas <- counterDelta{name: name, delta: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.deltas <- counterDelta{name: name, delta: -1}
}

// RegisterMetric adds a counter. Registering an existing name keeps its value.
func (su *StatsUpdater) RegisterMetric(name string) {
	if su.vars.Get(name) != nil {
		return
	}
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.apply()
}

func (su *StatsUpdater) Stop() {
	close(su.deltas)
}
