// Package identity is the principal directory: accounts, roles, and the
// permissions granted through role assignment.
//
// The session engine reads it through the Directory interface. Administrative
// operations (registration, listing, role assignment) go through Service.
// Store has an in-memory implementation for tests and single-process
// deployments and a PostgreSQL implementation.
package identity
