// Package scriptrunner is a task scheduler that runs a shell script from
// $HOME/bin on a fixed cadence.
//
// Each cycle the runner asks the host for a trivial "@Ping" procedure call.
// When the ping completes, the callback executes the script with `sh -c`,
// forwards its stdout line by line, times it, and logs failures and slow runs.
// It then returns the same ping action again, so the loop never stops and
// never changes its delay, whatever happened during the cycle.
//
// Stdout is drained on a detached goroutine. The cycle does not wait for the
// drain to finish, so output of a run may still be arriving after Callback
// returns.
package scriptrunner
