// Package artifacts retains conversion outputs under opaque retrieval
// tokens. Artifacts expire after a TTL, the oldest are evicted when the
// registry is full, and all retained files are removed on shutdown.
package artifacts
