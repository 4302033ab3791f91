// Package metrics exposes OTA Core's Prometheus metrics.
//
// Every group engine call is counted by operation and outcome and timed, and
// every HTTP request is counted by route and status. The registry is private
// to the instance (not the global default registry) and served on /metrics.
//
// # Usage
//
//	m := metrics.New(cfg.Metrics)
//	m.RegisterDBStats(db.DB)
//	svc := group.NewService(group.Deps{DB: db, Metrics: m})
//	router.Handle("/metrics", m.Handler())
//
// A disabled instance accepts every call and records nothing.
package metrics
