// Package sambung provides a resilient service invocation layer over HTTP:
// callers name a logical service and the client discovers instances, balances
// load and protects the call.
//
//   - Pluggable service registries (static, file backed, HTTP lookup)
//   - Load balancing (random, round robin, weighted, consistent hash, least active)
//   - Rate limiting (fixed window, token bucket, Redis backed)
//   - Circuit breaker per service instance (open / half‑open / closed states)
//   - Retries with fixed or exponential backoff
//   - Hierarchical tracing with pluggable span collectors
//   - Rolling call metrics, instance health tracking and Prometheus export
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via interceptors & pluggable registry / limiter / collectors
//
// Typical usage:
//
//	registry := sambung.NewStaticRegistry()
//	registry.Add(sambung.ServiceInstance{ServiceName: "users", Address: "10.0.0.1:8080"})
//
//	client := sambung.New(
//	    sambung.WithRegistry(registry),
//	    sambung.WithLoadBalancer(sambung.StrategyRoundRobin),
//	    sambung.WithRetry(sambung.DefaultRetryConfig()),
//	    sambung.WithMetrics(),
//	)
//	resp, err := client.Call(ctx, sambung.CallOptions{
//	    ServiceName: "users",
//	    Method:      "GET",
//	    Path:        "/api/users/42",
//	})
//
// Breakers and retries are mutually exclusive per call: a call that enables
// the circuit breaker is never retried. The library avoids opinionated
// logging: provide a Logger (e.g. via WithZerolog) + enable debug flags
// selectively (WithDebug / WithDebugConfig) for insight without noise.
package sambung
