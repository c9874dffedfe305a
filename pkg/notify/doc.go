// Package notify delivers fire-and-forget events such as "approval needed"
// and "escalated". Delivery failures never fail the operation that raised
// the event: callers go through Dispatch, which logs and swallows errors.
package notify
