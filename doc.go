// Package stepauth provides a step-up authentication engine with one-time-code
// login challenges, JWT access/refresh tokens backed by a revocation store, and
// Redis-backed session tracking.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// stepauth is the public surface. It exposes [Engine], [Builder], [Config], the
// collaborator interfaces ([CredentialGate], [Notifier], [PolicyEngine]) and value
// types (LoginChallenge, LoginResult, AuthResult, MetricsSnapshot). Credential
// verification and profile storage live behind the [CredentialGate]; the engine
// never sees a password hash.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports stepauth (no import cycles).
//
// # Performance contract
//
// ValidateToken is the hot path. One-time-code validation is a single Lua
// round-trip so the attempt counter stays exact under concurrency. Login,
// VerifyLogin, and Refresh are allowed a handful of Redis round-trips per call.
package stepauth
