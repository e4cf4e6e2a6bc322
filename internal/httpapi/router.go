package httpapi

import "net/http"

type server struct {
	opt Options
}

func NewMux(opt Options) *http.ServeMux {
	s := &server{opt: opt.withDefaults()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleIndex)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", s.opt.Metrics.Handler())
	mux.HandleFunc("GET /sub", s.handleSub)
	mux.HandleFunc("GET /clash", s.handleClash)
	mux.HandleFunc("GET /api/runs/latest", s.handleLatestRun)
	return mux
}
