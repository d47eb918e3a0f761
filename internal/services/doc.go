// Package services talks to the remote job service.
//
// # Request layer
//
// [Client] is the only place HTTP requests are made. Each logical call:
//
//  1. waits on the client's rate limiter
//  2. attaches the bearer credential from [Credentials]
//  3. runs under its own timeout
//  4. is retried once after a fixed delay when it fails with a transport error, 429 or 5xx
//
// Authorization rejections go through [withReauth]: the first 401 refreshes the
// credential and replays the call once, a second 401 expires the session and
// surfaces [shared.ReasonSessionExpired]. 404 is never retried.
//
// # Endpoints
//
//   - [AuthAPI] : login, refresh, logout, register, change-password and validate
//   - [Client.SubmitJob], [Client.GetJob], [Client.Download] : job endpoints
//   - [EventStream] : server-sent events push channel
//   - [WebSocketStream] : WebSocket push channel
//
// # Error Handling
//
// Failures map onto the shared taxonomy:
//   - [shared.NetworkError] : transport failure or timeout
//   - [shared.ErrRateLimited] : 429
//   - [shared.ErrServerError] : 5xx
//   - [shared.ErrNotFound] : 404
//   - [shared.ValidationError] : 400/413/415/422 with the server's error code, unmodified
package services
