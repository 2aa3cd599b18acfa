/*
Package session provides the facade application code talks to.

The facade owns transport selection and fallback: Connect attempts the
persistent duplex channel first, bounded by a timeout, and falls back to the
unidirectional streaming channel when the duplex attempt fails. Whichever
transport becomes active determines the capability set; any capability-gated
method called while the corresponding flag is false fails synchronously with
a transport.CapabilityError rather than degrading to a no-op.

Events from both transports are normalized into types.AIResponse before
reaching subscribers, so callers never branch on the active transport.

A Client is caller-owned: construct it with New, tear it down with Close.
There is no package-level singleton.
*/
package session
