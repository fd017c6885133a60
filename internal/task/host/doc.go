// Package host runs tasks built from registered scheduler classes.
//
// A task is a chain of one-shot actions. The host arms each action as a
// single cron entry, performs it when the delay elapses (calling a procedure
// through the Dispatcher when the action asks for one), hands the outcome to
// the action's callback and arms whatever the callback returns. A task ends
// when its callback returns an exit action, when it is dropped, or when its
// callback panics.
package host
