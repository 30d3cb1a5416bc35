// Package server implements the HTTP API for the voice conversion service.
// It exposes conversion endpoints for JSON and multipart requests, artifact
// download/delete, and monitoring/management endpoints.
package server
