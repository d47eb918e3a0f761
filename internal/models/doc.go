// Package models defines domain entities and persistence interfaces for the jobtrack client.
//
// The package contains two categories of types:
//
// 1. Wire types: structs decoded from or sent to the remote job service
//   - [Job] : Full snapshot of a batch job
//   - [Delta] : Partial progress update delivered over the push channel
//   - [Session] : Credential, [Identity] and expiry of an authenticated user
//   - [SubmitResponse] : Acknowledgement of a newly submitted job
//
// 2. Persistent entities: database-backed models with lifecycle management
//   - [JobRecord] : Local history entry for a submitted or tracked job
//
// Persistent entities implement the Model interface providing ID generation, timestamps, and validation.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
