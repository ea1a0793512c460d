// Package logging provides structured logging for HisSrv.
//
// It wraps log/slog with configuration-driven handler selection and
// default service/version attributes. Components derive their own
// loggers via With("component", ...).
package logging
