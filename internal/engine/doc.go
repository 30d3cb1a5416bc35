// Package engine talks to the voice conversion model runner. It defines the
// Engine and Stream abstractions, an HTTP client that uploads recordings and
// decodes the framed event stream, and a FIFO gate that serializes access to
// the single engine instance with a capacity pre-check against its fixed
// decode caches.
package engine
