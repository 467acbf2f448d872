// Package health serves the liveness, readiness and version probes.
//
// Liveness only reports that the process answers. Readiness runs every
// registered check concurrently, each bounded by a timeout; the server
// registers a ledger backend ping and the retention scheduler state.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("ledger", ledger.Ping)
//	router.Handle("/ready", checker.ReadinessHandler())
package health
