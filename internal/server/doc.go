// Package server implements a local development backend for the job service.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so a
// request with the wrong method gets a 405 from the mux itself.
//
// # Backend
//
// [Server] serves the whole remote contract the client consumes, in memory:
//
//   - /auth: login, refresh, logout, register, change-password and validate.
//     Credentials are HS256 JWTs carrying an exp claim. Refresh accepts a
//     token that expired less than [Options.RefreshGrace] ago.
//   - /jobs: multipart submission with an Idempotency-Key, snapshots, and
//     CSV reports once a job is terminal.
//   - /jobs/{id}/events: progress deltas, as server-sent events or over a
//     WebSocket when the request asks for an upgrade.
//
// Submitted jobs are never parsed. Each one advances [Options.Step] rows per
// [Options.Tick] with nine in ten rows succeeding, until it completes.
//
// Every route is mounted under /v1.
package server
