// Package models defines the domain types shared by the genx client.
//
// The package contains two categories of types:
//
// 1. Wire types: snapshots and envelopes exchanged with the generation backend
//   - [TaskProgress] : Point-in-time state of a backend generation task
//   - [TaskResult] : One produced artifact, addressed by storage key and/or URL
//   - [Envelope] : A push channel frame, `{type, data}`
//   - [User] : Identity returned by the auth remote
//   - [Quota] : Remaining generation allowance
//
// 2. Persistent entities: database-backed models with full lifecycle management
//   - [Generation] : A finished, failed or cancelled generation kept in local history
//
// Persistent entities implement the [Model] interface providing ID generation, timestamps, validation and soft delete support.
// The [Repository] interface defines standard CRUD operations for database access.
package models
