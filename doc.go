// Package restfetch provides a declarative client-side data-fetching engine:
//
//   - Layered URL/path composition across nested scopes (base, parent path, path)
//   - A fetch-and-resolve pipeline normalizing every failure mode into one error shape
//   - Per-session lifecycle state (idle / loading / settled) with stale-data retention
//   - Cancellation tokens tied to session lifetime and reconfiguration
//   - Debounced re-triggering for bursty parameter changes
//   - A long-polling protocol engine (Prefer wait/index headers, stop-on-missing-index)
//   - Optional circuit breaking, rate limiting and in-flight de-duplication
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - At most one live cancellation token per session; stale results never commit
//   - Safe concurrent use of a single *Client and its derived scopes
//   - Extensibility via user supplied middleware & pluggable logger / metrics
//
// Typical usage:
//
//	client := restfetch.New(
//	    restfetch.WithBase("https://api.example.com"),
//	    restfetch.WithSimpleLogger(),
//	)
//	users := client.Sub("users")
//	f := users.NewFetcher(restfetch.FetcherConfig{Path: "42"})
//	f.OnChange(func(s restfetch.State) { /* render */ })
//	f.Start()
//
// The library avoids opinionated logging: provide a Logger (e.g. via WithSimpleLogger
// or the zerolog adapter) + enable debug flags selectively for insight without noise.
package restfetch
