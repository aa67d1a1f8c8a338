// Package session owns Beacon's session records.
//
// A session binds a user to its current access/refresh token pair across
// rotations. Records are held in memory keyed by session id, with a
// secondary user index for revoke-everything flows. Mutations of a single
// session are serialized through a per-entry lock, so concurrent rotation
// attempts on the same session observe each other; distinct sessions never
// contend.
package session
