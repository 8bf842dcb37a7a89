// Package storage defines the persistence boundary for the governance core:
// record shapes and store interfaces for daily cost tracking, session
// lifecycle, lockouts, the append-only audit log, and sealed vault keys.
package storage
