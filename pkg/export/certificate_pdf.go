package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateLine is one department sign-off printed on a certificate.
type CertificateLine struct {
	Department string
	Status     string
	DecidedBy  string
	DecidedAt  *time.Time
}

// CertificateData is everything printed on a clearance certificate.
type CertificateData struct {
	Institution   string
	RequestID     string
	StudentName   string
	StudentIDNo   string
	Department    string
	StudyLevel    string
	ClearanceType string
	IssuedAt      time.Time
	Lines         []CertificateLine
}

// CertificateRenderer renders clearance certificates as single page PDFs.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a certificate renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render produces the PDF bytes for the certificate.
func (e *CertificateRenderer) Render(data CertificateData) ([]byte, error) {
	if data.RequestID == "" || data.StudentName == "" {
		return nil, fmt.Errorf("certificate requires request id and student name")
	}
	if len(data.Lines) == 0 {
		return nil, fmt.Errorf("certificate requires at least one department line")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetTitle("Clearance Certificate", false)
	pdf.AddPage()

	if data.Institution != "" {
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 10, data.Institution, "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, "CLEARANCE CERTIFICATE", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 11)
	details := [][2]string{
		{"Student", data.StudentName},
		{"ID No.", data.StudentIDNo},
		{"Department", data.Department},
		{"Study level", humanize(data.StudyLevel)},
		{"Clearance", humanize(data.ClearanceType)},
		{"Reference", data.RequestID},
		{"Issued", data.IssuedAt.UTC().Format("02 Jan 2006 15:04 MST")},
	}
	for _, d := range details {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(40, 7, d[0], "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 7, d[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(6)

	widths := []float64{60, 30, 80}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range []string{"Department", "Status", "Signed off"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range data.Lines {
		signed := line.DecidedBy
		if line.DecidedAt != nil {
			signed = strings.TrimSpace(signed + " " + line.DecidedAt.UTC().Format("2006-01-02"))
		}
		pdf.CellFormat(widths[0], 7, humanize(line.Department), "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[1], 7, humanize(line.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 7, signed, "1", 0, "", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 9)
	pdf.MultiCell(0, 5, "This certifies that the student above has been cleared by every listed office.", "", "L", false)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func humanize(raw string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(raw), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
