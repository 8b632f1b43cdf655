// Package scheduler provides trigger calculation for one-shot and recurring
// tasks. It is trigger-only: when a schedule fires it invokes the registered
// job callback asynchronously; execution, retries, and persistence live with
// the caller.
package scheduler
