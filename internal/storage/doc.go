// Package storage is the record store behind finpipe.
//
// It owns the four record kinds the activity feed reads (investments, pending
// investments, ledger transactions, withdrawal requests) plus users, and the
// state transitions the lifecycle service performs on them.
//
// Drivers:
//   - "sqlite": single-file database (modernc.org/sqlite, no cgo)
//   - "postgres": any postgres reachable through pgx
package storage
