// Package mbox reads billing mail from an mbox export. It backs the offline
// pipeline session and the classify command.
package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/invoice-ingest/model"
)

var ErrPartNotFound = errors.New("part not found in message")

// Entry is one message of an mbox file. UIDs count from 1 in file order.
type Entry struct {
	Message model.Message
	Raw     []byte
}

// Read opens an mbox file and calls fn for each message in file order.
// Messages whose header cannot be parsed are skipped but still consume a
// UID, so UIDs stay stable for a given file.
func Read(path string, fn func(Entry) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	return readFrom(file, fn)
}

func readFrom(r io.Reader, fn func(Entry) error) error {
	reader := mboxlib.NewReader(r)
	for uid := uint32(1); ; uid++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", uid, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", uid, err)
		}

		msg, err := Parse(raw)
		if err != nil {
			// try to continue
			continue
		}
		msg.UID = uid

		if err := fn(Entry{Message: msg, Raw: raw}); err != nil {
			return err
		}
	}
}

// Parse extracts the envelope fields and the leaf parts of a raw message.
// Part paths follow IMAP numbering.
func Parse(raw []byte) (model.Message, error) {
	entity, err := readEntity(raw)
	if err != nil {
		return model.Message{}, err
	}

	h := mail.Header{Header: entity.Header}
	msg := model.Message{}
	msg.MessageID, _ = h.MessageID()
	msg.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}

	err = entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return err
		}
		if isMultipart(part) {
			return nil
		}

		size, _ := io.Copy(io.Discard, part.Body)
		msg.Parts = append(msg.Parts, model.Part{
			Path:     imapPath(path),
			Filename: filename(part),
			Size:     size,
			Encoding: part.Header.Get("Content-Transfer-Encoding"),
		})
		return nil
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("walk parts: %w", err)
	}

	return msg, nil
}

// PartContent returns the decoded body of the part at the IMAP path.
func PartContent(raw []byte, path string) ([]byte, error) {
	entity, err := readEntity(raw)
	if err != nil {
		return nil, err
	}

	var content []byte
	found := false
	err = entity.Walk(func(p []int, part *message.Entity, err error) error {
		if found || isMultipart(part) || imapPath(p) != path {
			return nil
		}
		if err != nil && message.IsUnknownEncoding(err) {
			return err
		}
		content, err = io.ReadAll(part.Body)
		found = true
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", path, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", path, ErrPartNotFound)
	}
	return content, nil
}

func readEntity(raw []byte) (*message.Entity, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return entity, nil
}

func isMultipart(e *message.Entity) bool {
	mediaType, _, _ := e.Header.ContentType()
	return strings.HasPrefix(mediaType, "multipart/")
}

func filename(e *message.Entity) string {
	if _, params, err := e.Header.ContentDisposition(); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	if _, params, err := e.Header.ContentType(); err == nil {
		return params["name"]
	}
	return ""
}

// imapPath converts a walk path (0-based, nil for the root) to IMAP part
// numbering (1-based, "1" for a single-part message).
func imapPath(path []int) string {
	if len(path) == 0 {
		return "1"
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p + 1)
	}
	return strings.Join(parts, ".")
}
