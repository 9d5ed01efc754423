// Package pipeline runs one ingest cycle: it enumerates the source mailbox,
// retrieves each message's billing documents, hands them to the document
// builder and routes the message by outcome.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dhcgn/invoice-ingest/attachment"
	"github.com/dhcgn/invoice-ingest/builder"
	"github.com/dhcgn/invoice-ingest/bundle"
	"github.com/dhcgn/invoice-ingest/config"
	"github.com/dhcgn/invoice-ingest/filter"
	"github.com/dhcgn/invoice-ingest/model"
	"github.com/dhcgn/invoice-ingest/route"
	"github.com/dhcgn/invoice-ingest/state"
	"github.com/dhcgn/invoice-ingest/stats"
)

const cycleDirLayout = "20060102T150405"

type Orchestrator struct {
	cfg      config.Config
	dialer   Dialer
	builder  Builder
	filter   *filter.Filter
	tracker  state.Tracker
	unpacker *bundle.Unpacker
	router   *route.Router
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an Orchestrator. A nil tracker keeps pending routes in memory
// only.
func New(cfg config.Config, dialer Dialer, b Builder, tracker state.Tracker, logger *slog.Logger) (*Orchestrator, error) {
	f, err := filter.New(filter.Options{
		IncludeFrom:    cfg.IncludeFrom,
		IncludeSubject: cfg.IncludeSubject,
		ExcludeFrom:    cfg.ExcludeFrom,
		ExcludeSubject: cfg.ExcludeSubject,
	})
	if err != nil {
		return nil, err
	}

	if tracker == nil {
		tracker = state.NewMemoryTracker()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Orchestrator{
		cfg:      cfg,
		dialer:   dialer,
		builder:  b,
		filter:   f,
		tracker:  tracker,
		unpacker: bundle.New(logger),
		router:   route.New(logger),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// ProcessMessages runs one cycle. Per-message failures are reported in the
// results; only a *TransportError is returned.
func (o *Orchestrator) ProcessMessages(ctx context.Context) ([]Result, error) {
	collector := stats.NewCollector()
	defer collector.Report(o.logger)

	session, err := o.dialer.Dial(ctx)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	cleanupCtx := context.WithoutCancel(ctx)

	release, err := session.Lock(ctx)
	if err != nil {
		o.logout(cleanupCtx, session)
		return nil, &TransportError{Op: "lock", Err: err}
	}

	messages, err := session.Messages(ctx)
	if err != nil {
		release()
		o.logout(cleanupCtx, session)
		return nil, &TransportError{Op: "enumerate", Err: err}
	}
	slices.SortStableFunc(messages, func(a, b model.Message) int {
		return cmp.Compare(a.UID, b.UID)
	})
	o.logger.Info("Cycle started",
		"messages", len(messages),
		"mailbox", o.source(),
		"filtered", o.filter.Active(),
		"pendingRoutes", o.tracker.Snapshot().Pending,
	)

	cycleDir := filepath.Join(o.cfg.ScratchDir, o.now().Format(cycleDirLayout))
	results := make([]Result, 0, len(messages))
	for _, msg := range messages {
		if ctx.Err() != nil {
			o.logger.Warn("Cycle interrupted", "remaining", len(messages)-len(results))
			break
		}
		res := o.processMessage(ctx, session, cycleDir, msg)
		record(collector, res)
		results = append(results, res)
	}

	if err := os.RemoveAll(cycleDir); err != nil {
		o.logger.Warn("Failed to remove cycle directory", "dir", cycleDir, "err", err)
	}
	if f, ok := o.tracker.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			o.logger.Warn("Failed to flush pending routes", "err", err)
		}
	}

	release()
	o.logout(cleanupCtx, session)
	return results, nil
}

// source names the mailbox messages are read from.
func (o *Orchestrator) source() string {
	if o.cfg.MboxSource != "" {
		return o.cfg.MboxSource
	}
	return o.cfg.SourceMailbox
}

func (o *Orchestrator) logout(ctx context.Context, session Session) {
	if err := session.Logout(ctx); err != nil {
		o.logger.Warn("Logout failed", "err", err)
	}
}

func (o *Orchestrator) processMessage(ctx context.Context, session Session, cycleDir string, msg model.Message) Result {
	res := Result{UID: msg.UID, MessageID: msg.MessageID}
	logger := o.logger.With("uid", msg.UID, "messageId", msg.MessageID)

	if !o.filter.Allows(msg) {
		res.Reason = ReasonFiltered
		logger.Debug("Message filtered", "from", msg.From, "subject", msg.Subject)
		return res
	}

	key := state.Key(state.Identity{
		Mailbox:     o.source(),
		UIDValidity: msg.UIDValidity,
		UID:         msg.UID,
		MessageID:   msg.MessageID,
	})
	if mailbox, ok := o.tracker.Pending(key); ok {
		return o.retryRoute(ctx, session, key, mailbox, res, logger)
	}

	plan := attachment.Classify(msg.Parts)
	res.Strategy = plan.Strategy
	if plan.Strategy == attachment.StrategySkip {
		res.Reason = ReasonNoAttachments
		logger.Debug("Message has no billing attachments", "parts", len(msg.Parts))
		return res
	}

	msgCtx := ctx
	if o.cfg.MessageTimeout > 0 {
		var cancel context.CancelFunc
		msgCtx, cancel = context.WithTimeout(ctx, o.cfg.MessageTimeout)
		defer cancel()
	}

	res.Billing, res.Err = o.retrieve(msgCtx, session, cycleDir, msg.UID, plan, logger)

	// Cancellation is not a verdict on the message: it stays in the source
	// mailbox and runs again next cycle.
	if res.Err != nil && ctx.Err() != nil {
		res.Reason = ReasonInterrupted
		logger.Warn("Message processing interrupted", "strategy", plan.Strategy, "err", res.Err)
		return res
	}

	mailbox := o.cfg.SuccessMailbox
	res.Outcome = OutcomeSucceeded
	if res.Err != nil {
		mailbox = o.cfg.FailureMailbox
		res.Outcome = OutcomeFailed
		attrs := []any{"strategy", plan.Strategy, "err", res.Err}
		var berr *builder.Error
		if errors.As(res.Err, &berr) {
			attrs = append(attrs, "output", berr.Output)
		}
		logger.Error("Message processing failed", attrs...)
	} else {
		attrs := []any{"strategy", plan.Strategy}
		if res.Billing != nil {
			attrs = append(attrs, "invoice", res.Billing.ID, "cufe", res.Billing.CUFE)
		}
		logger.Info("Message processed", attrs...)
	}

	res.Route = o.router.Move(ctx, session, msg.UID, mailbox)
	if !res.Route.OK() {
		if err := o.tracker.MarkPending(key, msg.MessageID, mailbox); err != nil {
			logger.Warn("Failed to remember pending route", "mailbox", mailbox, "err", err)
		}
	}
	return res
}

// retryRoute replays a move that failed in an earlier cycle without running
// the strategy again.
func (o *Orchestrator) retryRoute(ctx context.Context, session Session, key, mailbox string, res Result, logger *slog.Logger) Result {
	res.Retried = true
	res.Outcome = OutcomeFailed
	if mailbox == o.cfg.SuccessMailbox {
		res.Outcome = OutcomeSucceeded
	}

	logger.Info("Retrying pending route", "mailbox", mailbox)
	res.Route = o.router.Move(ctx, session, res.UID, mailbox)
	if res.Route.OK() {
		if err := o.tracker.Resolve(key); err != nil {
			logger.Warn("Failed to clear pending route", "err", err)
		}
	}
	return res
}

func record(c *stats.Collector, res Result) {
	c.Record(stats.Event{Type: stats.EventTypeScanned, MessageID: res.MessageID})

	strategy := stats.Strategy(res.Strategy.String())
	switch {
	case res.Reason == ReasonFiltered:
		c.Record(stats.Event{Type: stats.EventTypeFiltered, MessageID: res.MessageID})
	case res.Outcome == OutcomeSkipped:
		c.Record(stats.Event{Type: stats.EventTypeSkipped, MessageID: res.MessageID, Detail: res.Reason})
	case res.Retried:
		c.Record(stats.Event{Type: stats.EventTypeRouteRetried, MessageID: res.MessageID})
	case res.Outcome == OutcomeSucceeded:
		c.Record(stats.Event{Type: stats.EventTypeSucceeded, Strategy: strategy, MessageID: res.MessageID})
	case res.Outcome == OutcomeFailed:
		c.Record(stats.Event{Type: stats.EventTypeFailed, Strategy: strategy, MessageID: res.MessageID, Err: res.Err})
	}

	if res.Route.Err != nil {
		c.Record(stats.Event{Type: stats.EventTypeRouteFailed, MessageID: res.MessageID, Err: res.Route.Err})
	}
}
