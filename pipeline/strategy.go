package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/invoice-ingest/attachment"
	"github.com/dhcgn/invoice-ingest/billing"
	"github.com/dhcgn/invoice-ingest/model"
)

// retrieve runs the chosen strategy inside a fresh workspace. The workspace
// is gone by the time retrieve returns.
func (o *Orchestrator) retrieve(ctx context.Context, session Session, cycleDir string, uid uint32, plan attachment.Plan, logger *slog.Logger) (*model.Billing, error) {
	ws, err := newWorkspace(cycleDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.remove(); err != nil {
			logger.Warn("Failed to remove workspace", "dir", ws.dir, "err", err)
		}
	}()

	switch plan.Strategy {
	case attachment.StrategyDirect:
		return o.direct(ctx, session, ws, uid, *plan.XML, *plan.PDF)
	case attachment.StrategyBundle:
		return o.bundle(ctx, session, ws, uid, *plan.Zip)
	default:
		return nil, fmt.Errorf("no retrieval for strategy %s", plan.Strategy)
	}
}

// direct downloads the xml and pdf parts concurrently and builds from them.
// The extractor only runs when ValidateDirect is set.
func (o *Orchestrator) direct(ctx context.Context, session Session, ws *workspace, uid uint32, xmlPart, pdfPart model.Part) (*model.Billing, error) {
	var xmlPath, pdfPath string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		xmlPath, err = o.fetch(gctx, session, ws, uid, xmlPart)
		return err
	})
	g.Go(func() error {
		var err error
		pdfPath, err = o.fetch(gctx, session, ws, uid, pdfPart)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var record *model.Billing
	if o.cfg.ValidateDirect {
		b, err := billing.ParseFile(xmlPath)
		if err != nil {
			return nil, err
		}
		record = &b
	}

	if err := o.builder.Build(ctx, sidecarPath(xmlPath), xmlPath, pdfPath); err != nil {
		return record, err
	}
	return record, nil
}

func (o *Orchestrator) fetch(ctx context.Context, session Session, ws *workspace, uid uint32, part model.Part) (string, error) {
	dl, err := session.Download(ctx, uid, part)
	if err != nil {
		return "", fmt.Errorf("download part %s: %w", part.Path, err)
	}
	defer dl.Content.Close()

	name := part.Filename
	if dl.Filename != "" {
		name = dl.Filename
	}
	return ws.create(name, dl.Content)
}

// bundle downloads the zip part, unpacks it, validates the xml with the
// extractor and builds from the unpacked pair.
func (o *Orchestrator) bundle(ctx context.Context, session Session, ws *workspace, uid uint32, part model.Part) (*model.Billing, error) {
	if err := o.unpacker.Admit(part.Size); err != nil {
		return nil, err
	}

	dl, err := session.Download(ctx, uid, part)
	if err != nil {
		return nil, fmt.Errorf("download part %s: %w", part.Path, err)
	}
	defer dl.Content.Close()

	files, err := o.unpacker.Unpack(dl.Content, max(part.Size, dl.Size), ws.dir)
	if err != nil {
		return nil, err
	}

	record, err := billing.ParseFile(files.XML)
	if err != nil {
		return nil, err
	}

	if err := o.builder.Build(ctx, sidecarPath(files.XML), files.XML, files.PDF); err != nil {
		return &record, err
	}
	return &record, nil
}
