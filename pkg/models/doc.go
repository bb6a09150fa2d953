// Package models defines the block data model of Hydra Notes.
//
// A user's notes form a forest of [Block] values. Each block points at its parent via
// ParentID and the parent keeps the ordered back-reference list Children. Depth is the
// distance from the root and Order positions a block among its siblings.
//
// # Typed IDs
//
// [BlockID] wraps a UUID and knows how to represent itself in every backend: a string in
// JSON and BSON, a uuid column in PostgreSQL, and a RecordID (CBOR tag 8) in SurrealDB.
// [UserID] is the opaque subject returned by the identity provider.
//
// # Partial updates
//
// [Optional] distinguishes a field that was omitted from one that was explicitly set,
// including explicit null. Update payloads use it so that only supplied fields change.
package models
