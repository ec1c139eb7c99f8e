// Package database provides the PostgreSQL connection pool for the
// optional confirmed-message archive.
package database
