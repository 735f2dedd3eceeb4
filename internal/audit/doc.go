// Package audit defines the structured audit event model, the sink
// contract, and the asynchronous dispatcher that decouples security
// operations from audit delivery. A sink failure is invisible to the
// operation that triggered the event.
package audit
