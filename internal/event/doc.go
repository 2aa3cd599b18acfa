/*
Package event routes inbound session events to registered handlers.

The dispatcher is built on watermill's gochannel for infrastructure while
keeping direct-call semantics so handlers receive fully typed events. Inbound
events from whichever transport is active are normalized into a
types.AIResponse before reaching the dispatcher, so subscribers never need to
know which transport produced an event.

Delivery is synchronous and ordered: for each dispatched event, type-specific
handlers run first, then wildcard handlers, each in registration order, all in
the dispatching goroutine. Handlers must complete quickly and must not
dispatch re-entrantly.

Basic usage:

	d := event.NewDispatcher()
	defer d.Close()

	unsubscribe := d.On(types.EventProgress, func(r types.AIResponse) {
		logging.Debug().Str("requestId", r.RequestID).Msg("progress")
	})
	defer unsubscribe()

	all := d.OnAny(func(r types.AIResponse) { ... })
	defer all()

	d.Dispatch(types.AIResponse{SessionEvent: ev, Transport: types.TransportDuplex})

The dispatcher does not isolate handler faults: a panicking handler propagates
to the dispatching goroutine.
*/
package event
