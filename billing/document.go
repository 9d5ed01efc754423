// Package billing turns UBL billing documents (Invoice, CreditNote and the
// AttachedDocument envelope) into model.Billing records.
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

var (
	ErrUnrecognizedDocument = errors.New("document is not an Invoice, CreditNote or AttachedDocument")
	ErrMissingInvoiceID     = errors.New("billing record has no invoice id")
)

// Kind tags the variant of a parsed billing document.
type Kind int

const (
	KindInvoice Kind = iota + 1
	KindCreditNote
	KindAttachedDocument
)

func (k Kind) String() string {
	switch k {
	case KindInvoice:
		return "Invoice"
	case KindCreditNote:
		return "CreditNote"
	case KindAttachedDocument:
		return "AttachedDocument"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// variants is checked in order; the envelope wins if a producer ever emits
// more than one top-level element.
var variants = []Kind{KindAttachedDocument, KindInvoice, KindCreditNote}

// Document is a parsed billing document. Exactly one variant is present.
type Document struct {
	Kind Kind

	root       *etree.Element
	attachment *Attachment
}

// Attachment is the secondary document embedded as CDATA in
// Attachment/ExternalReference/Description. Lookups start at the top-level
// element, so "Invoice/ID" and a bare "LegalMonetaryTotal/PayableAmount"
// both resolve.
type Attachment struct {
	doc *etree.Document
}

// ParseDocument parses raw XML and identifies its variant.
func ParseDocument(data []byte) (*Document, error) {
	doc, err := readXML(data)
	if err != nil {
		return nil, fmt.Errorf("parse billing xml: %w", err)
	}

	for _, kind := range variants {
		root := doc.SelectElement(kind.String())
		if root == nil {
			continue
		}
		return &Document{
			Kind:       kind,
			root:       root,
			attachment: parseAttachment(text(root, "Attachment/ExternalReference/Description")),
		}, nil
	}

	return nil, ErrUnrecognizedDocument
}

// HasAttachment reports whether an embedded document was found and parsed.
func (d *Document) HasAttachment() bool {
	return d.attachment != nil
}

func parseAttachment(payload string) *Attachment {
	payload = strings.ReplaceAll(payload, "<![CDATA[", "")
	payload = strings.ReplaceAll(payload, "]]>", "")
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}

	doc, err := readXML([]byte(payload))
	if err != nil || len(doc.ChildElements()) == 0 {
		return nil
	}
	return &Attachment{doc: doc}
}

func (a *Attachment) text(path string) string {
	if a == nil {
		return ""
	}
	return text(&a.doc.Element, path)
}

func readXML(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	return doc, nil
}

// text returns the trimmed character data at path below el, or "".
func text(el *etree.Element, path string) string {
	if el == nil {
		return ""
	}
	found := el.FindElement(path)
	if found == nil {
		return ""
	}
	return strings.TrimSpace(found.Text())
}
