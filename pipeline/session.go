package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhcgn/invoice-ingest/model"
)

// ErrTransport marks failures of the mail session itself. A cycle that hits
// one stops and the process is expected to exit.
var ErrTransport = errors.New("mail transport failure")

// Session is one authenticated connection to the source mailbox.
type Session interface {
	// Lock gains exclusive access to the source mailbox. release must be
	// called exactly once.
	Lock(ctx context.Context) (release func(), err error)
	// Messages lists the mailbox contents in ascending UID order.
	Messages(ctx context.Context) ([]model.Message, error)
	// Download streams one part, transfer encoding removed.
	Download(ctx context.Context, uid uint32, part model.Part) (*model.Download, error)
	// Move relocates a message and returns the destination it landed in.
	Move(ctx context.Context, uid uint32, mailbox string) (string, error)
	Logout(ctx context.Context) error
}

// Dialer opens a Session.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Builder turns an extracted xml/pdf pair into the json sidecar.
type Builder interface {
	Build(ctx context.Context, jsonPath, xmlPath, pdfPath string) error
}

// TransportError is returned by ProcessMessages when the session could not
// be opened, locked or enumerated. It matches ErrTransport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mail transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
