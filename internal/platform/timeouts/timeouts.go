// Package timeouts defines shared timeout constants used across the
// governance core. Centralizing these values prevents drift between
// component boundaries and makes the durations discoverable.
package timeouts

import "time"

// AuditAppend caps how long an audit append may take before the request
// is treated as a governance failure. Audit writes are on the hot path of
// every decision and must never hang the caller.
const AuditAppend = 2 * time.Second

// VaultOp caps a single vault encrypt or decrypt operation.
const VaultOp = 2 * time.Second

// StorageOp caps a single storage read or write outside the audit path.
const StorageOp = 2 * time.Second

// Shutdown limits how long the server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
