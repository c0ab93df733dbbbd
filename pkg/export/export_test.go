package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"request_id", "overall_status"},
		Rows: []map[string]string{
			{"request_id": "req-1", "overall_status": "APPROVED"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "request_id,overall_status\nreq-1,APPROVED\n", string(out))
}

func TestReadDatasetNormalisesHeaders(t *testing.T) {
	raw := "\ufeffFirst_Name, last_name ,email\nAbebe,Kebede,abebe@uni.edu\n"
	data, err := ReadDataset(strings.NewReader(raw), []string{"first_name", "email"}, 0)
	require.NoError(t, err)
	require.Len(t, data.Rows, 1)
	assert.Equal(t, "Abebe", data.Rows[0]["first_name"])
	assert.Equal(t, "Kebede", data.Rows[0]["last_name"])
}

func TestReadDatasetMissingColumns(t *testing.T) {
	_, err := ReadDataset(strings.NewReader("first_name\nA\n"), []string{"first_name", "id_no"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_no")
}

func TestReadDatasetRowLimit(t *testing.T) {
	_, err := ReadDataset(strings.NewReader("a\n1\n2\n3\n"), []string{"a"}, 2)
	require.Error(t, err)
}

func TestCertificateRendererProducesPDF(t *testing.T) {
	decided := time.Date(2026, 6, 1, 9, 40, 0, 0, time.UTC)
	out, err := NewCertificateRenderer().Render(CertificateData{
		Institution:   "Addis Ababa Science and Technology University",
		RequestID:     "req-1",
		StudentName:   "Abebe Kebede",
		StudentIDNo:   "ETS0001/12",
		Department:    "Software Engineering",
		StudyLevel:    "UNDERGRADUATE",
		ClearanceType: "GRADUATION",
		IssuedAt:      decided,
		Lines: []CertificateLine{
			{Department: "REGISTRAR", Status: "APPROVED", DecidedBy: "registrar@uni.edu", DecidedAt: &decided},
		},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestCertificateRendererRejectsEmpty(t *testing.T) {
	_, err := NewCertificateRenderer().Render(CertificateData{RequestID: "req-1", StudentName: "A"})
	require.Error(t, err)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Student Affair", humanize("STUDENT_AFFAIR"))
	assert.Equal(t, "", humanize(""))
}
