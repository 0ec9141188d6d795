// Package log provides structured logging via zerolog: a global Logger
// initialized once with Init, and WithComponent/WithStaffID-style helpers for
// component-scoped child loggers. See log.go.
package log
