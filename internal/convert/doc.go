// Package convert orchestrates voice conversion requests end to end.
// It validates and resolves inputs from paths, base64 payloads or uploads,
// applies admission control, drives the gated engine stream and encodes the
// result, folding every failure into a structured outcome.
package convert
