// Package protocol implements the length-prefixed binary framing used on
// engine conversion streams. A stream is a sequence of chunk frames closed by
// exactly one terminal frame, either a final PCM result or an error.
package protocol
