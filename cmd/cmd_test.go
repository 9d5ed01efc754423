package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoice = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
  xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
  xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>FE-1001</cbc:ID>
  <cbc:UUID>cufe-1</cbc:UUID>
  <cbc:IssueDate>2024-01-01</cbc:IssueDate>
  <cac:LegalMonetaryTotal>
    <cbc:PayableAmount currencyID="COP">1190000.00</cbc:PayableAmount>
  </cac:LegalMonetaryTotal>
</Invoice>`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "invoice-ingest", SilenceUsage: true, SilenceErrors: true}
	AddCommands(root)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func message(from, subject string, attachments ...string) string {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Message-Id: <" + subject + "@example.com>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"B\"\r\n\r\n")
	b.WriteString("--B\r\nContent-Type: text/plain\r\n\r\nhola\r\n")
	for _, name := range attachments {
		b.WriteString("--B\r\nContent-Type: application/octet-stream\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"" + name + "\"\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(name)) + "\r\n")
	}
	b.WriteString("--B--\r\n")
	return b.String()
}

func writeMbox(t *testing.T, messages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.mbox")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := mboxlib.NewWriter(f)
	for _, m := range messages {
		mw, err := w.CreateMessage("sender@example.com", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		_, err = io.WriteString(mw, m)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func TestExtract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fv.xml")
	require.NoError(t, os.WriteFile(path, []byte(invoice), 0o600))

	out, err := execute(t, "extract", "--compact", path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "FE-1001", got["id"])
	assert.Equal(t, "cufe-1", got["cufe"])
	assert.Equal(t, 1190000.0, got["value"])
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := execute(t, "extract", filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	path := writeMbox(t,
		message("a@proveedor.co", "uno", "fv.xml", "fv.pdf"),
		message("a@proveedor.co", "dos", "fv.zip"),
		message("b@otro.co", "tres", "fv.XML", "fv.zip", "fv.PDF"),
		message("c@spam.co", "cuatro"),
	)
	reports := filepath.Join(t.TempDir(), "reports")

	out, err := execute(t, "classify", path, "--output", reports)
	require.NoError(t, err)

	assert.Contains(t, out, "Scanned 4 messages (0 filtered)")
	assert.Contains(t, out, "direct: 2")
	assert.Contains(t, out, "bundle: 1")
	assert.Contains(t, out, "skip: 1")
	assert.Contains(t, out, "1. a@proveedor.co (2)")

	f, err := os.Open(filepath.Join(reports, "report_strategy.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Value", "Count"}, {"direct", "2"}, {"bundle", "1"}, {"skip", "1"}}, records)

	for _, name := range []string{"report_from.csv", "report_subject.csv"} {
		_, err := os.Stat(filepath.Join(reports, name))
		assert.NoError(t, err, name)
	}
}

func TestClassify_Filtered(t *testing.T) {
	path := writeMbox(t,
		message("a@proveedor.co", "uno", "fv.xml", "fv.pdf"),
		message("c@spam.co", "dos", "fv.zip"),
	)

	out, err := execute(t, "classify", path, "--exclude-from", `spam\.co$`)
	require.NoError(t, err)
	assert.Contains(t, out, "Scanned 2 messages (1 filtered)")
	assert.Contains(t, out, "bundle: 0")
}

func TestClassify_ConflictingFilters(t *testing.T) {
	path := writeMbox(t, message("a@proveedor.co", "uno"))

	_, err := execute(t, "classify", path, "--include-from", "a", "--exclude-subject", "b")
	require.Error(t, err)
}
