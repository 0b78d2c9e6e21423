// Package poller follows an asynchronous server-side task to completion.
//
// A Poller is constructed per task and owns its own ticker, cancellation and
// Record. Every Interval it asks a StatusFetcher for the task status, bounded
// by RequestTimeout, merges the payload into the Record and renders the change
// into a View. Transport failures on a tick are logged and counted, and the
// next tick proceeds as scheduled.
//
// Once the task reaches a terminal state polling stops and the terminal flow
// runs on the same goroutine:
//   - SUCCESS: the View shows the download affordance; once the user activates
//     it the Poller waits RedirectDelay and redirects to the index URL.
//   - FAILURE: the View shows a blocking dialog with the task message; the
//     redirect happens only after the user acknowledges it.
//   - REVOKED: the View is notified, nothing else happens.
package poller
