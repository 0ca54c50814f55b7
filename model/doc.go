// Package model contains the domain models of the dispatch system: events,
// subscriptions, notifications, recovery items and series bookkeeping.
//
// Models carry their own business logic (matching, expiry, attempt tracking)
// so that the pipeline components stay thin coordinators.
package model

// tablePrefix is prepended to every table name. Kept in sync with the
// default prefix used by the relica adapters.
const tablePrefix = "dispatch_"
