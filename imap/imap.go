// Package imap implements pipeline.Session on an IMAP server.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"

	"github.com/dhcgn/invoice-ingest/model"
	"github.com/dhcgn/invoice-ingest/pipeline"
)

var (
	ErrNotSelected = errors.New("mailbox not selected")
	ErrNoSuchPart  = errors.New("body section missing from fetch response")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	// Outcomes are created on first dial if missing.
	Outcomes []string
}

// Dialer opens authenticated sessions against one server.
type Dialer struct {
	opts   Options
	logger *slog.Logger

	ensureOnce sync.Once
	ensureErr  error
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	return &Dialer{opts: opts, logger: logger}, nil
}

func (d *Dialer) Dial(ctx context.Context) (pipeline.Session, error) {
	address := net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
	options := &imapclient.Options{}

	if d.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         d.opts.Host,
			InsecureSkipVerify: d.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if d.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(d.opts.Username, d.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	d.ensureOnce.Do(func() {
		for _, mailbox := range d.opts.Outcomes {
			if d.ensureErr = d.ensureMailbox(client, mailbox); d.ensureErr != nil {
				return
			}
		}
	})
	if d.ensureErr != nil {
		_ = client.Close()
		return nil, d.ensureErr
	}

	if d.logger != nil {
		d.logger.Debug("imap connection established", "address", address, "user", d.opts.Username, "mailbox", d.mailbox(), "tls", d.opts.UseTLS)
	}

	return &Session{
		client:    client,
		mailbox:   d.mailbox(),
		logger:    d.logger,
		stopClose: context.AfterFunc(ctx, func() { _ = client.Close() }),
	}, nil
}

func (d *Dialer) mailbox() string {
	if d.opts.Mailbox == "" {
		return "INBOX"
	}
	return d.opts.Mailbox
}

func (d *Dialer) ensureMailbox(client *imapclient.Client, mailbox string) error {
	cmd := client.Create(mailbox, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			if respErr.Code == imapv2.ResponseCodeAlreadyExists {
				if d.logger != nil {
					d.logger.Debug("imap mailbox already exists", "mailbox", mailbox)
				}
				return nil
			}
		}
		return fmt.Errorf("ensure mailbox %s: %w", mailbox, err)
	}

	if d.logger != nil {
		d.logger.Info("imap mailbox created", "mailbox", mailbox)
	}
	return nil
}

// Session is one IMAP connection. Selecting the source mailbox acts as the
// lock; Unselect releases it without expunging.
type Session struct {
	client    *imapclient.Client
	mailbox   string
	logger    *slog.Logger
	stopClose func() bool

	mu          sync.Mutex
	selected    bool
	count       uint32
	uidValidity uint32
}

func (s *Session) Lock(ctx context.Context) (func(), error) {
	data, err := s.client.Select(s.mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", s.mailbox, err)
	}

	s.mu.Lock()
	s.selected = true
	s.count = data.NumMessages
	s.uidValidity = data.UIDValidity
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.selected = false
			s.mu.Unlock()
			if err := s.client.Unselect().Wait(); err != nil && s.logger != nil {
				s.logger.Warn("imap unselect failed", "mailbox", s.mailbox, "err", err)
			}
		})
	}, nil
}

func (s *Session) Messages(ctx context.Context) ([]model.Message, error) {
	s.mu.Lock()
	selected, count, uidValidity := s.selected, s.count, s.uidValidity
	s.mu.Unlock()
	if !selected {
		return nil, ErrNotSelected
	}
	if count == 0 {
		return nil, nil
	}

	var all imapv2.SeqSet
	all.AddRange(1, 0)

	buffers, err := s.client.Fetch(all, &imapv2.FetchOptions{
		UID:           true,
		Envelope:      true,
		BodyStructure: &imapv2.FetchItemBodyStructure{Extended: true},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.mailbox, err)
	}

	messages := make([]model.Message, 0, len(buffers))
	for _, buf := range buffers {
		msg := toMessage(buf)
		msg.UIDValidity = uidValidity
		messages = append(messages, msg)
	}
	return messages, nil
}

func toMessage(buf *imapclient.FetchMessageBuffer) model.Message {
	msg := model.Message{UID: uint32(buf.UID)}
	if env := buf.Envelope; env != nil {
		msg.MessageID = env.MessageID
		msg.Subject = env.Subject
		if len(env.From) > 0 {
			msg.From = env.From[0].Addr()
		}
	}
	if buf.BodyStructure != nil {
		msg.Parts = partsOf(buf.BodyStructure)
	}
	return msg
}

// partsOf lists the leaf parts with their IMAP section paths.
func partsOf(bs imapv2.BodyStructure) []model.Part {
	var parts []model.Part
	bs.Walk(func(path []int, part imapv2.BodyStructure) bool {
		single, ok := part.(*imapv2.BodyStructureSinglePart)
		if !ok {
			return true
		}
		parts = append(parts, model.Part{
			Path:     formatPath(path),
			Filename: single.Filename(),
			Size:     decodedSize(int64(single.Size), single.Encoding),
			Encoding: single.Encoding,
		})
		return true
	})
	return parts
}

func (s *Session) Download(ctx context.Context, uid uint32, part model.Part) (*model.Download, error) {
	path, err := parsePath(part.Path)
	if err != nil {
		return nil, err
	}

	section := &imapv2.FetchItemBodySection{Part: path, Peek: true}
	buffers, err := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(uid)), &imapv2.FetchOptions{
		BodySection: []*imapv2.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch uid %d section %s: %w", uid, part.Path, err)
	}
	if len(buffers) == 0 {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrNoSuchPart)
	}

	raw := buffers[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("uid %d section %s: %w", uid, part.Path, ErrNoSuchPart)
	}

	body, err := decode(raw, part.Encoding)
	if err != nil {
		return nil, fmt.Errorf("decode uid %d section %s: %w", uid, part.Path, err)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("decode uid %d section %s: %w", uid, part.Path, err)
	}

	return &model.Download{
		Filename: part.Filename,
		Size:     int64(len(content)),
		Content:  io.NopCloser(bytes.NewReader(content)),
	}, nil
}

// decodedSize estimates the decoded size of a part from the encoded size
// BODYSTRUCTURE reports. Line breaks are not subtracted, so base64 estimates
// run slightly high.
func decodedSize(size int64, encoding string) int64 {
	if strings.EqualFold(encoding, "base64") {
		return size * 3 / 4
	}
	return size
}

// decode strips the content transfer encoding from a fetched section.
func decode(raw []byte, encoding string) (io.Reader, error) {
	var h message.Header
	h.Set("Content-Type", "application/octet-stream")
	if encoding != "" {
		h.Set("Content-Transfer-Encoding", strings.ToLower(encoding))
	}
	entity, err := message.New(h, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return entity.Body, nil
}

func (s *Session) Move(ctx context.Context, uid uint32, mailbox string) (string, error) {
	if _, err := s.client.Move(imapv2.UIDSetNum(imapv2.UID(uid)), mailbox).Wait(); err != nil {
		return "", err
	}
	return mailbox, nil
}

func (s *Session) Logout(ctx context.Context) error {
	s.stopClose()
	err := s.client.Logout().Wait()
	if cerr := s.client.Close(); cerr != nil && s.logger != nil {
		s.logger.Debug("imap connection closed", "err", cerr)
	}
	if err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

func formatPath(path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ".")
}

func parsePath(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty part path")
	}
	fields := strings.Split(s, ".")
	path := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid part path %q", s)
		}
		path[i] = n
	}
	return path, nil
}
