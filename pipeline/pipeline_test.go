package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/invoice-ingest/attachment"
	"github.com/dhcgn/invoice-ingest/billing"
	"github.com/dhcgn/invoice-ingest/builder"
	"github.com/dhcgn/invoice-ingest/bundle"
	"github.com/dhcgn/invoice-ingest/config"
	"github.com/dhcgn/invoice-ingest/model"
	"github.com/dhcgn/invoice-ingest/state"
)

const invoiceXML = `<Invoice xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
 xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2">
  <cbc:ID>FE-1001</cbc:ID>
  <cbc:UUID>cufe-1001</cbc:UUID>
  <cbc:IssueDate>2024-01-01</cbc:IssueDate>
</Invoice>`

type move struct {
	uid     uint32
	mailbox string
}

type fakeSession struct {
	mu sync.Mutex

	messages []model.Message
	contents map[string][]byte

	lockErr  error
	listErr  error
	moveErr  error
	moveErrs map[uint32]error

	locks     int
	releases  int
	logouts   int
	downloads []string
	moves     []move
}

func newFakeSession(messages ...model.Message) *fakeSession {
	return &fakeSession{messages: messages, contents: make(map[string][]byte)}
}

func contentKey(uid uint32, path string) string {
	return fmt.Sprintf("%d/%s", uid, path)
}

func (s *fakeSession) put(uid uint32, path string, data []byte) {
	s.contents[contentKey(uid, path)] = data
}

func (s *fakeSession) Lock(context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks++
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	return func() {
		s.mu.Lock()
		s.releases++
		s.mu.Unlock()
	}, nil
}

func (s *fakeSession) Messages(context.Context) ([]model.Message, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]model.Message(nil), s.messages...), nil
}

func (s *fakeSession) Download(_ context.Context, uid uint32, part model.Part) (*model.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contentKey(uid, part.Path)
	s.downloads = append(s.downloads, key)
	data, ok := s.contents[key]
	if !ok {
		return nil, fmt.Errorf("no part %s", key)
	}
	return &model.Download{
		Filename: part.Filename,
		Size:     int64(len(data)),
		Content:  io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (s *fakeSession) Move(_ context.Context, uid uint32, mailbox string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.moveErr != nil {
		return "", s.moveErr
	}
	if err := s.moveErrs[uid]; err != nil {
		return "", err
	}
	s.moves = append(s.moves, move{uid, mailbox})
	return mailbox, nil
}

func (s *fakeSession) Logout(context.Context) error {
	s.mu.Lock()
	s.logouts++
	s.mu.Unlock()
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
}

func (d fakeDialer) Dial(context.Context) (Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type buildCall struct {
	json, xml, pdf string
	xmlBody        string
}

type fakeBuilder struct {
	mu    sync.Mutex
	err   error
	calls []buildCall
}

func (b *fakeBuilder) Build(_ context.Context, jsonPath, xmlPath, pdfPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, _ := os.ReadFile(xmlPath)
	if _, err := os.Stat(pdfPath); err != nil {
		return err
	}
	b.calls = append(b.calls, buildCall{json: jsonPath, xml: xmlPath, pdf: pdfPath, xmlBody: string(body)})
	return b.err
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		ScratchDir:     t.TempDir(),
		SourceMailbox:  "INBOX",
		SuccessMailbox: "processed",
		FailureMailbox: "failed",
	}
}

func newOrchestrator(t *testing.T, cfg config.Config, session *fakeSession, b Builder, tracker state.Tracker) *Orchestrator {
	t.Helper()
	o, err := New(cfg, fakeDialer{session: session}, b, tracker, nil)
	require.NoError(t, err)
	return o
}

func zipBytes(t *testing.T, entries map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func bundleMessage(t *testing.T, s *fakeSession, uid uint32, xmlBody string) model.Message {
	t.Helper()
	data := zipBytes(t, map[string]string{
		"fv.xml": xmlBody,
		"fv.pdf": "%PDF-1.4",
	}, "fv.xml", "fv.pdf")
	s.put(uid, "2", data)
	return model.Message{
		UID:       uid,
		MessageID: fmt.Sprintf("<bundle-%d@example.com>", uid),
		Parts: []model.Part{
			{Path: "1", Filename: ""},
			{Path: "2", Filename: "ad0900123456.zip", Size: int64(len(data))},
		},
	}
}

func assertScratchEmpty(t *testing.T, cfg config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspaces must be removed")
}

func TestProcessMessages_DirectPairBeatsBundle(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession(model.Message{
		UID:       3,
		MessageID: "<direct@example.com>",
		Parts: []model.Part{
			{Path: "2", Filename: "bundle.zip", Size: 10},
			{Path: "3", Filename: "FV-1001.XML"},
			{Path: "4", Filename: "FV-1001.pdf"},
		},
	})
	s.put(3, "3", []byte(invoiceXML))
	s.put(3, "4", []byte("%PDF-1.4"))
	b := &fakeBuilder{}

	results, err := newOrchestrator(t, cfg, s, b, nil).ProcessMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, attachment.StrategyDirect, res.Strategy)
	assert.Nil(t, res.Billing, "direct pairs are not validated by default")
	assert.True(t, res.Routed())
	assert.Equal(t, []move{{3, "processed"}}, s.moves)
	assert.ElementsMatch(t, []string{"3/3", "3/4"}, s.downloads)

	require.Len(t, b.calls, 1)
	call := b.calls[0]
	assert.Equal(t, "FV-1001.XML", filepath.Base(call.xml))
	assert.Equal(t, "FV-1001.pdf", filepath.Base(call.pdf))
	assert.Equal(t, "FV-1001.json", filepath.Base(call.json))
	assert.Equal(t, filepath.Dir(call.xml), filepath.Dir(call.json))
	assert.Equal(t, invoiceXML, call.xmlBody)

	_, statErr := os.Stat(filepath.Dir(call.xml))
	assert.True(t, os.IsNotExist(statErr))
	assertScratchEmpty(t, cfg)
	assert.Equal(t, 1, s.releases)
	assert.Equal(t, 1, s.logouts)
}

func TestProcessMessages_ValidateDirect(t *testing.T) {
	cfg := testConfig(t)
	cfg.ValidateDirect = true
	s := newFakeSession(
		model.Message{UID: 1, Parts: []model.Part{{Path: "1", Filename: "a.xml"}, {Path: "2", Filename: "a.pdf"}}},
		model.Message{UID: 2, Parts: []model.Part{{Path: "1", Filename: "b.xml"}, {Path: "2", Filename: "b.pdf"}}},
	)
	s.put(1, "1", []byte(invoiceXML))
	s.put(1, "2", []byte("%PDF"))
	s.put(2, "1", []byte("<Order/>"))
	s.put(2, "2", []byte("%PDF"))
	b := &fakeBuilder{}

	results, err := newOrchestrator(t, cfg, s, b, nil).ProcessMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NotNil(t, results[0].Billing)
	assert.Equal(t, "FE-1001", results[0].Billing.ID)
	assert.Equal(t, OutcomeFailed, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, billing.ErrUnrecognizedDocument)
	assert.Len(t, b.calls, 1)
	assert.Equal(t, []move{{1, "processed"}, {2, "failed"}}, s.moves)
}

func TestProcessMessages_Bundle(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession()
	s.messages = append(s.messages, bundleMessage(t, s, 9, invoiceXML))
	b := &fakeBuilder{}

	results, err := newOrchestrator(t, cfg, s, b, nil).ProcessMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, attachment.StrategyBundle, res.Strategy)
	require.NotNil(t, res.Billing)
	assert.Equal(t, "FE-1001", res.Billing.ID)
	assert.Equal(t, "cufe-1001", res.Billing.CUFE)
	require.Len(t, b.calls, 1)
	assert.Equal(t, "fv.json", filepath.Base(b.calls[0].json))
	assert.Equal(t, []move{{9, "processed"}}, s.moves)
	assertScratchEmpty(t, cfg)
}

func TestProcessMessages_BundleFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, s *fakeSession) model.Message
		wantErr error
	}{
		{
			name: "unrecognized document",
			setup: func(t *testing.T, s *fakeSession) model.Message {
				return bundleMessage(t, s, 1, "<Order><ID>1</ID></Order>")
			},
			wantErr: billing.ErrUnrecognizedDocument,
		},
		{
			name: "missing invoice id",
			setup: func(t *testing.T, s *fakeSession) model.Message {
				return bundleMessage(t, s, 1, "<Invoice><IssueDate>2024-01-01</IssueDate></Invoice>")
			},
			wantErr: billing.ErrMissingInvoiceID,
		},
		{
			name: "no pdf in bundle",
			setup: func(t *testing.T, s *fakeSession) model.Message {
				data := zipBytes(t, map[string]string{"fv.xml": invoiceXML, "notes.txt": "x"}, "fv.xml", "notes.txt")
				s.put(1, "2", data)
				return model.Message{UID: 1, Parts: []model.Part{{Path: "2", Filename: "b.zip", Size: int64(len(data))}}}
			},
			wantErr: bundle.ErrNoValidInvoice,
		},
		{
			name: "oversize bundle",
			setup: func(t *testing.T, s *fakeSession) model.Message {
				return model.Message{UID: 1, Parts: []model.Part{{Path: "2", Filename: "b.zip", Size: bundle.MaxSize + 1}}}
			},
			wantErr: bundle.ErrSizeExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			s := newFakeSession()
			s.messages = []model.Message{tt.setup(t, s)}
			b := &fakeBuilder{}

			results, err := newOrchestrator(t, cfg, s, b, nil).ProcessMessages(context.Background())
			require.NoError(t, err)
			require.Len(t, results, 1)

			assert.Equal(t, OutcomeFailed, results[0].Outcome)
			assert.ErrorIs(t, results[0].Err, tt.wantErr)
			assert.Empty(t, b.calls)
			assert.Equal(t, []move{{1, "failed"}}, s.moves)
			assertScratchEmpty(t, cfg)
		})
	}
}

func TestProcessMessages_OversizeBundleNotDownloaded(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession(model.Message{UID: 1, Parts: []model.Part{{Path: "1", Filename: "b.zip", Size: bundle.MaxSize + 1}}})

	_, err := newOrchestrator(t, cfg, s, &fakeBuilder{}, nil).ProcessMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.downloads)
}

func TestProcessMessages_BuilderFailure(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession(model.Message{UID: 4, Parts: []model.Part{{Path: "1", Filename: "a.xml"}, {Path: "2", Filename: "a.pdf"}}})
	s.put(4, "1", []byte(invoiceXML))
	s.put(4, "2", []byte("%PDF"))
	b := &fakeBuilder{err: &builder.Error{Output: "render failed", Err: errors.New("exit status 1")}}

	results, err := newOrchestrator(t, cfg, s, b, nil).ProcessMessages(context.Background())
	require.NoError(t, err)

	var berr *builder.Error
	require.ErrorAs(t, results[0].Err, &berr)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Equal(t, []move{{4, "failed"}}, s.moves)
	assertScratchEmpty(t, cfg)
}

func TestProcessMessages_DownloadFailure(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession(model.Message{UID: 5, Parts: []model.Part{{Path: "1", Filename: "a.xml"}, {Path: "2", Filename: "a.pdf"}}})
	s.put(5, "1", []byte(invoiceXML))
	b := &fakeBuilder{}

	results, err := newOrchestrator(t, cfg, s, b, nil).ProcessMessages(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Empty(t, b.calls)
	assert.Equal(t, []move{{5, "failed"}}, s.moves)
	assertScratchEmpty(t, cfg)
}

func TestProcessMessages_SkipLeavesMessageUntouched(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession(model.Message{UID: 1, Parts: []model.Part{{Path: "1", Filename: "logo.png"}, {Path: "2", Filename: "a.pdf"}}})

	results, err := newOrchestrator(t, cfg, s, &fakeBuilder{}, nil).ProcessMessages(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, ReasonNoAttachments, results[0].Reason)
	assert.False(t, results[0].Routed())
	assert.Empty(t, s.moves)
	assert.Empty(t, s.downloads)
}

func TestProcessMessages_Filtered(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludeFrom = []string{`@newsletter\.example$`}
	s := newFakeSession(model.Message{UID: 1, From: "news@newsletter.example", Parts: []model.Part{{Path: "1", Filename: "b.zip"}}})

	results, err := newOrchestrator(t, cfg, s, &fakeBuilder{}, nil).ProcessMessages(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReasonFiltered, results[0].Reason)
	assert.Empty(t, s.moves)
	assert.Empty(t, s.downloads)
}

func TestProcessMessages_AscendingUIDOrder(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession(
		model.Message{UID: 30},
		model.Message{UID: 10},
		model.Message{UID: 20},
	)

	results, err := newOrchestrator(t, cfg, s, &fakeBuilder{}, nil).ProcessMessages(context.Background())
	require.NoError(t, err)

	var uids []uint32
	for _, r := range results {
		uids = append(uids, r.UID)
	}
	assert.Equal(t, []uint32{10, 20, 30}, uids)
}

func TestProcessMessages_TransportFailures(t *testing.T) {
	cause := errors.New("connection reset by peer")

	t.Run("dial", func(t *testing.T) {
		o, err := New(testConfig(t), fakeDialer{err: cause}, &fakeBuilder{}, nil, nil)
		require.NoError(t, err)

		_, err = o.ProcessMessages(context.Background())
		require.ErrorIs(t, err, ErrTransport)
		require.ErrorIs(t, err, cause)
	})

	t.Run("lock", func(t *testing.T) {
		s := newFakeSession()
		s.lockErr = cause

		_, err := newOrchestrator(t, testConfig(t), s, &fakeBuilder{}, nil).ProcessMessages(context.Background())
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "lock", terr.Op)
		assert.Equal(t, 0, s.releases)
		assert.Equal(t, 1, s.logouts)
	})

	t.Run("enumerate", func(t *testing.T) {
		s := newFakeSession()
		s.listErr = cause
		b := &fakeBuilder{}

		results, err := newOrchestrator(t, testConfig(t), s, b, nil).ProcessMessages(context.Background())
		require.ErrorIs(t, err, ErrTransport)
		assert.Nil(t, results)
		assert.Equal(t, 1, s.releases)
		assert.Equal(t, 1, s.logouts)
		assert.Empty(t, s.moves)
		assert.Empty(t, b.calls)
	})
}

func TestProcessMessages_RouteFailureRetriedNextCycle(t *testing.T) {
	cfg := testConfig(t)
	tracker := state.NewMemoryTracker()
	s := newFakeSession()
	s.messages = []model.Message{bundleMessage(t, s, 7, invoiceXML)}
	s.moveErr = errors.New("mailbox processed does not exist")
	b := &fakeBuilder{}
	o := newOrchestrator(t, cfg, s, b, tracker)

	results, err := o.ProcessMessages(context.Background())
	require.NoError(t, err)
	require.NotNil(t, results[0].Route.Err)
	assert.Equal(t, OutcomeSucceeded, results[0].Outcome)
	mailbox, ok := tracker.Pending(state.Key(state.Identity{Mailbox: "INBOX", UID: 7, MessageID: results[0].MessageID}))
	require.True(t, ok)
	assert.Equal(t, "processed", mailbox)

	s.moveErr = nil
	results, err = o.ProcessMessages(context.Background())
	require.NoError(t, err)

	assert.True(t, results[0].Retried)
	assert.True(t, results[0].Routed())
	assert.Len(t, b.calls, 1, "builder must not run again for a pending route")
	assert.Equal(t, []move{{7, "processed"}}, s.moves)
	assert.Equal(t, 0, tracker.Snapshot().Pending)
	assert.Equal(t, 2, s.releases)
	assert.Equal(t, 2, s.logouts)
}

func TestProcessMessages_PendingRouteBelongsToOneMessage(t *testing.T) {
	cfg := testConfig(t)
	tracker := state.NewMemoryTracker()
	s := newFakeSession()
	broken := bundleMessage(t, s, 1, `<NotAnInvoice/>`)
	valid := bundleMessage(t, s, 2, invoiceXML)
	broken.MessageID = "<resent@example.com>"
	valid.MessageID = "<resent@example.com>"
	s.messages = []model.Message{broken, valid}
	s.moveErrs = map[uint32]error{1: errors.New("connection reset during move")}
	b := &fakeBuilder{}
	o := newOrchestrator(t, cfg, s, b, tracker)

	results, err := o.ProcessMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	require.NotNil(t, results[0].Route.Err)

	assert.False(t, results[1].Retried, "a shared Message-ID must not replay another message's route")
	assert.Equal(t, OutcomeSucceeded, results[1].Outcome)
	assert.True(t, results[1].Routed())
	require.Len(t, b.calls, 1)
	assert.Equal(t, []move{{2, "processed"}}, s.moves)
	assert.Equal(t, 1, tracker.Snapshot().Pending)

	// Next cycle: only the message whose move failed is left, and only its
	// own route is replayed.
	s.messages = []model.Message{broken}
	s.moveErrs = nil
	results, err = o.ProcessMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Retried)
	assert.Equal(t, "failed", results[0].Route.Mailbox)
	assert.Len(t, b.calls, 1)
	assert.Equal(t, []move{{2, "processed"}, {1, "failed"}}, s.moves)
	assert.Equal(t, 0, tracker.Snapshot().Pending)
}

func TestProcessMessages_CycleStartReportsFilterAndPendingRoutes(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludeFrom = []string{`@spam\.co$`}
	tracker := state.NewMemoryTracker()
	require.NoError(t, tracker.MarkPending("k", "<old@example.com>", "failed"))
	s := newFakeSession(model.Message{UID: 1, From: "promo@spam.co"})

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	o, err := New(cfg, fakeDialer{session: s}, &fakeBuilder{}, tracker, logger)
	require.NoError(t, err)

	results, err := o.ProcessMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ReasonFiltered, results[0].Reason)

	out := logs.String()
	assert.Contains(t, out, `msg="Cycle started"`)
	assert.Contains(t, out, "filtered=true")
	assert.Contains(t, out, "pendingRoutes=1")
}

type builderFunc func(ctx context.Context, jsonPath, xmlPath, pdfPath string) error

func (f builderFunc) Build(ctx context.Context, jsonPath, xmlPath, pdfPath string) error {
	return f(ctx, jsonPath, xmlPath, pdfPath)
}

func TestProcessMessages_InterruptedMessageStaysInSource(t *testing.T) {
	cfg := testConfig(t)
	tracker := state.NewMemoryTracker()
	s := newFakeSession()
	s.messages = []model.Message{bundleMessage(t, s, 1, invoiceXML), bundleMessage(t, s, 2, invoiceXML)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := builderFunc(func(ctx context.Context, _, _, _ string) error {
		cancel()
		return ctx.Err()
	})

	results, err := newOrchestrator(t, cfg, s, b, tracker).ProcessMessages(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1, "no message starts after cancellation")
	assert.Equal(t, ReasonInterrupted, results[0].Reason)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Empty(t, s.moves, "an interrupted message is not routed to failure")
	assert.Equal(t, 0, tracker.Snapshot().Pending)
	assert.Equal(t, 1, s.releases)
	assert.Equal(t, 1, s.logouts)
	assertScratchEmpty(t, cfg)
}

func TestProcessMessages_CanceledStopsBeforeNextMessage(t *testing.T) {
	cfg := testConfig(t)
	s := newFakeSession(model.Message{UID: 1}, model.Message{UID: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := newOrchestrator(t, cfg, s, &fakeBuilder{}, nil).ProcessMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, s.releases)
	assert.Equal(t, 1, s.logouts)
}

func TestSidecarPath(t *testing.T) {
	tests := map[string]string{
		"/w/fv.xml":       "/w/fv.json",
		"/w/FV.XML":       "/w/FV.json",
		"/w/fv.xml.signed": "/w/fv.xml.signed.json",
		"/w/noext":        "/w/noext.json",
	}
	for in, want := range tests {
		assert.Equal(t, want, sidecarPath(in), in)
	}
}

func TestWorkspaceCreateUsesBaseName(t *testing.T) {
	ws, err := newWorkspace(t.TempDir())
	require.NoError(t, err)

	path, err := ws.create("../../etc/fv.xml", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.dir, "fv.xml"), path)

	_, err = ws.create("fv.xml", bytes.NewReader([]byte("y")))
	assert.Error(t, err, "existing files are not overwritten")

	_, err = ws.create("", bytes.NewReader(nil))
	assert.Error(t, err)

	require.NoError(t, ws.remove())
	_, err = os.Stat(ws.dir)
	assert.True(t, os.IsNotExist(err))
}
