// Package event builds immutable lifecycle events and dispatches them to
// registered notifiers.
//
// Factory has one constructor per event kind. Dispatcher builds each event
// at most once per notification, and only when at least one notifier wants
// it. Notifier failures are logged and never reach the caller.
package event
