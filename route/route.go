// Package route moves processed messages to their outcome mailbox.
package route

import (
	"context"
	"fmt"
	"log/slog"
)

// Mover relocates a message and returns the destination it landed in.
type Mover interface {
	Move(ctx context.Context, uid uint32, mailbox string) (string, error)
}

// Error is a failed move. It is reported in Result, never returned.
type Error struct {
	UID     uint32
	Mailbox string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("move message %d to %q: %v", e.UID, e.Mailbox, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the outcome of a move.
type Result struct {
	Mailbox     string
	Destination string
	Err         *Error
}

// OK reports whether the message was moved.
func (r Result) OK() bool {
	return r.Err == nil
}

type Router struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Router {
	return &Router{logger: logger}
}

// Move is best effort: a failure is logged and carried in the result.
func (r *Router) Move(ctx context.Context, mover Mover, uid uint32, mailbox string) Result {
	res := Result{Mailbox: mailbox}

	dest, err := mover.Move(ctx, uid, mailbox)
	if err != nil {
		res.Err = &Error{UID: uid, Mailbox: mailbox, Err: err}
		if r.logger != nil {
			r.logger.Error("Failed to route message", "uid", uid, "mailbox", mailbox, "err", err)
		}
		return res
	}

	res.Destination = dest
	if r.logger != nil {
		r.logger.Debug("Message routed", "uid", uid, "mailbox", mailbox, "destination", dest)
	}
	return res
}
