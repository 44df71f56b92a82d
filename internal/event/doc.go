// Package event provides a synchronous pub-sub bus for observing logwait
// components without coupling to them.
//
// The dispatcher publishes wait and lifecycle events, the monitor publishes
// process events and the poller publishes one event per round. The CLI
// subscribes to print progress; tests subscribe to assert on ordering.
//
// # Event Types
//
//   - wait.submitted, wait.resolved: [WaitSubmittedEvent], [WaitResolvedEvent]
//   - dispatcher.started, dispatcher.terminated
//   - process.started, process.exited
//   - poller.round, poller.state
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine; publishers never hold their own locks while
// publishing, so a handler may call back into the publisher. A panicking
// handler is logged and does not prevent delivery to the others.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeWaitResolved, func(e event.Event) {
//	    resolved := e.(event.WaitResolvedEvent)
//	    fmt.Println(resolved.Predicate, resolved.Outcome)
//	})
package event
