// Package indicator turns the latest usage snapshot from the server into
// what the user sees: a colour tier, a countdown to the window reset, and
// whether voice input is disabled.
//
// Every derivation is a pure function of the snapshot and the current time.
// The indicator never estimates usage on its own. Poller keeps the last
// snapshot that was fetched successfully, so a failed refresh leaves the
// display stale rather than blank.
package indicator
