// Package identity is the user-record boundary consumed by the auth service.
//
// It deliberately exposes a narrow store interface (lookup by username,
// email, or id; create; password update). Everything else about users is
// out of scope for the messaging core.
package identity
