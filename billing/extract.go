package billing

import (
	"fmt"
	"os"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/dhcgn/invoice-ingest/model"
)

// partyPaths locates the supplier and customer PartyTaxScheme parents.
type partyPaths struct {
	supplier string
	customer string
}

var (
	envelopeParties = partyPaths{supplier: "SenderParty", customer: "ReceiverParty"}
	invoiceParties  = partyPaths{supplier: "AccountingSupplierParty/Party", customer: "AccountingCustomerParty/Party"}
)

// Parse parses raw XML and extracts its billing record. Records without an
// invoice id are rejected.
func Parse(data []byte) (model.Billing, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return model.Billing{}, err
	}

	record := Extract(doc)
	if record.ID == "" {
		return model.Billing{}, fmt.Errorf("%s: %w", doc.Kind, ErrMissingInvoiceID)
	}
	return record, nil
}

// ParseFile is Parse over the contents of path.
func ParseFile(path string) (model.Billing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Billing{}, fmt.Errorf("read billing xml: %w", err)
	}
	return Parse(data)
}

// Extract projects a parsed document onto the canonical record. It never
// fails; missing fields come back empty.
func Extract(doc *Document) model.Billing {
	switch doc.Kind {
	case KindAttachedDocument:
		return extractAttachedDocument(doc)
	case KindInvoice, KindCreditNote:
		return extractInvoice(doc)
	default:
		return model.Billing{}
	}
}

// extractAttachedDocument reads the envelope itself; the embedded document
// only backs up id and value.
func extractAttachedDocument(doc *Document) model.Billing {
	return extract(doc, envelopeParties)
}

func extractInvoice(doc *Document) model.Billing {
	return extract(doc, invoiceParties)
}

func extract(doc *Document, parties partyPaths) model.Billing {
	return model.Billing{
		ID:        invoiceID(doc),
		CUFE:      firstNonEmpty(text(doc.root, "UUID"), text(doc.root, "ParentDocumentLineReference/DocumentReference/UUID")),
		Date:      text(doc.root, "IssueDate"),
		Value:     payableAmount(doc.attachment),
		Proveedor: party(doc.root, parties.supplier),
		Cliente:   party(doc.root, parties.customer),
	}
}

func invoiceID(doc *Document) string {
	parentID := text(doc.root, "ParentDocumentID")
	if parentID == "null" {
		parentID = ""
	}

	return firstNonEmpty(
		doc.attachment.text("ID"),
		doc.attachment.text("Invoice/ID"),
		doc.attachment.text("CreditNote/ID"),
		parentID,
		text(doc.root, "AltID"),
		text(doc.root, "ParentDocumentLineReference/DocumentReference/ID"),
		text(doc.root, "ID"),
	)
}

func payableAmount(att *Attachment) decimal.Decimal {
	for _, path := range []string{
		"Invoice/LegalMonetaryTotal/PayableAmount",
		"LegalMonetaryTotal/PayableAmount",
	} {
		raw := att.text(path)
		if raw == "" {
			continue
		}
		if amount, err := decimal.NewFromString(raw); err == nil {
			return amount
		}
	}
	return decimal.Zero
}

func party(root *etree.Element, path string) model.Party {
	var entity *etree.Element
	if root != nil {
		entity = root.FindElement(path + "/PartyTaxScheme")
	}
	return model.Party{
		NIT:    text(entity, "CompanyID"),
		Nombre: text(entity, "RegistrationName"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
