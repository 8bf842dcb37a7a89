// Package sqlite provides the SQLite-backed implementation of the
// governance storage contracts.
package sqlite
