// Package codeshare wires the session store, relay and lifecycle API into a
// collaborative code editor backend: many clients share a session identified
// by an opaque id and see each other's edits live.
package codeshare

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/codeshare-dev/codeshare/internal"
	"github.com/codeshare-dev/codeshare/relay"
	"github.com/codeshare-dev/codeshare/session"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type server struct {
	chain []func(next http.Handler) http.Handler
	final http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := s.final
	for i := range s.chain {
		h = s.chain[len(s.chain)-1-i](h)
	}
	h.ServeHTTP(w, req)
}

func allowCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if req.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, req)
	}
}

func connContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(w, req.WithContext(internal.ConnContext(req.Context())))
	})
}

// NewHandler assembles the HTTP surface: the lifecycle API, the relay
// websocket endpoint and (optionally) prometheus metrics, behind CORS and
// request logging.
func NewHandler(store *session.Store, rl *relay.Relay, enableProm bool) http.Handler {
	api := &LifecycleAPI{Store: store}

	r := mux.NewRouter()
	r.Handle("/api/sessions", allowCORS(http.HandlerFunc(api.CreateSession))).Methods("POST", "OPTIONS")
	r.Handle("/api/sessions/{sessionID}", allowCORS(http.HandlerFunc(api.GetSession))).Methods("GET", "OPTIONS")
	r.Handle("/api/relay", relay.NewHandler(rl))
	if enableProm {
		r.Handle("/metrics", promhttp.Handler())
	}

	return &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			connContext,
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				l := hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("path", r.URL.Path)
				internal.DecorateLogger(r.Context(), l).Msg("")
			}),
			hlog.RemoteAddrHandler("ip"),
		},
		final: r,
	}
}

// RunServer is the main entry point to the server. Blocks forever.
func RunServer(h http.Handler, bindAddr string) {
	logger.Info().Msgf("listening on %s", bindAddr)
	if err := http.ListenAndServe(bindAddr, h); err != nil {
		logger.Fatal().Err(err).Msg("failed to listen and serve")
	}
}
