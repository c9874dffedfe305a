// Package health exposes liveness and readiness probes for the gatekeeper
// daemon. Readiness aggregates named component checks such as store
// connectivity and the freshness of the last rule reload or expiry sweep.
package health
