// Package notifier delivers lifecycle notifications to users and the
// administrator mailbox.
//
// # Recipients
//
// request, approve, reject and matured go to the user; admin_alert goes to
// the administrator. A maturity batch expands into one matured message per
// listed user plus one summary for the administrator.
//
// # Delivery
//
// Every delivery of one Dispatch call runs concurrently and the call returns
// once all of them finished. Each recipient yields exactly one Outcome, sent
// or not; nothing is retried. Whether a send is real or only logged is
// decided by the injected delivery.Channel, never here.
//
// # History
//
// Outcomes are published on the event bus and kept in a small in-memory
// history for operator visibility.
package notifier
