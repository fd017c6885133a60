// Package task defines the contract between the scheduling host and the
// schedulers it runs.
//
// A scheduler is constructed through a no-argument Factory, initialized once
// with a Helper and its Params, then asked for its first ScheduledAction. From
// then on the host runs each action after its delay and hands the outcome to
// the action's Callback, which returns the next action.
package task
