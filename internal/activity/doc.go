// Package activity merges an owner's investments, pending requests, ledger
// entries and withdrawal requests into one timeline.
//
// Each record kind is a Source. Sources are read concurrently and a failing
// source only removes its own items; the feed errors out only when every
// source failed.
package activity
