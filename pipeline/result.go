package pipeline

import (
	"github.com/dhcgn/invoice-ingest/attachment"
	"github.com/dhcgn/invoice-ingest/model"
	"github.com/dhcgn/invoice-ingest/route"
)

type Outcome int

const (
	// OutcomeSkipped leaves the message in the source mailbox.
	OutcomeSkipped Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

const (
	ReasonFiltered      = "filtered"
	ReasonNoAttachments = "no billing attachments"
	ReasonInterrupted   = "interrupted"
)

// Result describes what happened to one message in a cycle.
type Result struct {
	UID       uint32
	MessageID string
	Outcome   Outcome
	// Reason is set for skipped messages.
	Reason   string
	Strategy attachment.Strategy
	// Billing is set whenever the extractor ran successfully.
	Billing *model.Billing
	Err     error
	// Route is the zero value when no move was attempted.
	Route route.Result
	// Retried marks a move replayed from the pending-route tracker.
	Retried bool
}

// Routed reports whether the message left the source mailbox.
func (r Result) Routed() bool {
	return r.Route.Mailbox != "" && r.Route.OK()
}
