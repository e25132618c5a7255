// Package logging provides the gateway's structured logging: package-level
// Debug/Info/Warn/Error functions keyed by subsystem name, backed by
// log/slog, plus Audit, which writes a structured [AUDIT] security-event
// line; the gateway's own packages do not call Audit. Error values are
// never the secret itself — see internal/secrets for the reference-only
// contract that keeps this true.
package logging
