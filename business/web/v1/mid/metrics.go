package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/kilnlabs/kiln/foundation/web"
)

// metricsValues maintains the counters published to the /debug/vars
// endpoint.
type metricsValues struct {
	goroutines *expvar.Int
	requests   *expvar.Int
	errors     *expvar.Int
	panics     *expvar.Int
}

// AddPanics increments the panics counter.
func (mv metricsValues) AddPanics(ctx context.Context) {
	mv.panics.Add(1)
}

// metrics is the single instance of the counters for the process.
var metrics = metricsValues{
	goroutines: expvar.NewInt("goroutines"),
	requests:   expvar.NewInt("requests"),
	errors:     expvar.NewInt("errors"),
	panics:     expvar.NewInt("panics"),
}

// Metrics updates program counters published to the /debug/vars endpoint.
func Metrics() web.Middleware {

	m := func(handler web.Handler) web.Handler {

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			err := handler(ctx, w, r)

			// Increment the request counter and update the goroutine count
			// every 100 requests.
			metrics.requests.Add(1)
			if n := metrics.requests.Value(); n%100 == 0 {
				metrics.goroutines.Set(int64(runtime.NumGoroutine()))
			}

			if err != nil {
				metrics.errors.Add(1)
			}

			return err
		}

		return h
	}

	return m
}
