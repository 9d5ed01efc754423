package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/invoice-ingest/model"
	"github.com/dhcgn/invoice-ingest/pipeline"
)

var (
	ErrLocked     = errors.New("mbox source is locked by another session")
	ErrNoSuchUID  = errors.New("no message with that uid")
	errBadMailbox = errors.New("mailbox name is not a plain file name")
)

type Options struct {
	// Path is the source mbox file. It is never modified.
	Path string
	// OutputDir receives one <mailbox>.mbox file per outcome mailbox.
	OutputDir string
	// Outcomes are scanned on dial; messages already present there are not
	// offered again.
	Outcomes []string
}

// Dialer serves pipeline sessions from an mbox file. Moving a message
// appends it to an outcome file and hides it from later sessions.
type Dialer struct {
	opts   Options
	logger *slog.Logger

	lock  sync.Mutex
	mu    sync.Mutex
	moved map[uint32]bool
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Dir(opts.Path)
	}
	return &Dialer{opts: opts, logger: logger, moved: make(map[uint32]bool)}, nil
}

func (d *Dialer) Dial(ctx context.Context) (pipeline.Session, error) {
	if err := os.MkdirAll(d.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create mbox output dir: %w", err)
	}

	routed, err := d.routedIDs()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := Read(d.opts.Path, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if d.logger != nil {
		d.logger.Debug("mbox source opened", "path", d.opts.Path, "messages", len(entries), "alreadyRouted", len(routed))
	}
	return &Session{dialer: d, entries: entries, routed: routed}, nil
}

// routedIDs collects the Message-IDs already written to outcome files.
func (d *Dialer) routedIDs() (map[string]bool, error) {
	routed := make(map[string]bool)
	for _, mailbox := range d.opts.Outcomes {
		path, err := d.outcomePath(mailbox)
		if err != nil {
			return nil, err
		}
		err = Read(path, func(e Entry) error {
			if e.Message.MessageID != "" {
				routed[e.Message.MessageID] = true
			}
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return routed, nil
}

func (d *Dialer) outcomePath(mailbox string) (string, error) {
	if mailbox == "" || mailbox != filepath.Base(mailbox) || mailbox == "." || mailbox == ".." {
		return "", fmt.Errorf("%q: %w", mailbox, errBadMailbox)
	}
	return filepath.Join(d.opts.OutputDir, mailbox+".mbox"), nil
}

// Session is a snapshot of the mbox file taken at dial time.
type Session struct {
	dialer  *Dialer
	entries []Entry
	routed  map[string]bool
}

func (s *Session) Lock(ctx context.Context) (func(), error) {
	if !s.dialer.lock.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() { once.Do(s.dialer.lock.Unlock) }, nil
}

func (s *Session) Messages(ctx context.Context) ([]model.Message, error) {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()

	messages := make([]model.Message, 0, len(s.entries))
	for _, e := range s.entries {
		if s.dialer.moved[e.Message.UID] || s.routed[e.Message.MessageID] {
			continue
		}
		messages = append(messages, e.Message)
	}
	return messages, nil
}

func (s *Session) entry(uid uint32) (Entry, error) {
	for _, e := range s.entries {
		if e.Message.UID == uid {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("uid %d: %w", uid, ErrNoSuchUID)
}

func (s *Session) Download(ctx context.Context, uid uint32, part model.Part) (*model.Download, error) {
	e, err := s.entry(uid)
	if err != nil {
		return nil, err
	}
	content, err := PartContent(e.Raw, part.Path)
	if err != nil {
		return nil, err
	}
	return &model.Download{
		Filename: part.Filename,
		Size:     int64(len(content)),
		Content:  io.NopCloser(bytes.NewReader(content)),
	}, nil
}

func (s *Session) Move(ctx context.Context, uid uint32, mailbox string) (string, error) {
	e, err := s.entry(uid)
	if err != nil {
		return "", err
	}
	path, err := s.dialer.outcomePath(mailbox)
	if err != nil {
		return "", err
	}

	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()

	if err := appendMessage(path, e); err != nil {
		return "", fmt.Errorf("append to %s: %w", path, err)
	}
	s.dialer.moved[uid] = true
	return path, nil
}

func (s *Session) Logout(ctx context.Context) error {
	return nil
}

func appendMessage(path string, e Entry) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}

	from := e.Message.From
	if from == "" {
		from = "MAILER-DAEMON"
	}

	w := mboxlib.NewWriter(file)
	mw, err := w.CreateMessage(from, time.Now())
	if err == nil {
		_, err = mw.Write(e.Raw)
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
