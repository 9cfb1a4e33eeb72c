// internal/report/report_test.go
package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/docket-cli/internal/extract"
)

func sampleGeneralData(index string) map[string]string {
	data := extract.ExtractGeneralData(nil)
	data["court"] = "Supreme"
	data["index number"] = index
	return data
}

func TestFinalize(t *testing.T) {
	rep := New("123456/2020")
	rep.Append(CaseRecord{CaseNumber: "A", Docs: 5})
	rep.Append(CaseRecord{CaseNumber: "B", Docs: 0})

	require.NoError(t, rep.Finalize(2))
	assert.Equal(t, 2, rep.Cases)
	assert.Equal(t, 5, rep.TotalDocs())

	err := rep.Finalize(3)
	assert.ErrorIs(t, err, ErrInconsistentReport)
}

func TestEmptyReportEncodesEmptyData(t *testing.T) {
	rep := New("999/2021")
	require.NoError(t, rep.Finalize(0))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, rep, Options{IncludeGeneralData: true}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "999/2021", decoded["input_case_number"])
	assert.EqualValues(t, 0, decoded["cases"])
	assert.Equal(t, []interface{}{}, decoded["data"])
}

func TestEncodeFlattensRecords(t *testing.T) {
	rep := New("123456/2020")
	rep.Append(CaseRecord{
		CaseNumber:  "123456/2020",
		Docs:        5,
		GeneralData: sampleGeneralData("123456/2020"),
		Attorneys:   &extract.Attorneys{Plaintiff: []extract.Attorney{{Atty: "ROE LAW PC"}}, Defendant: []extract.Attorney{}},
	})
	require.NoError(t, rep.Finalize(1))

	t.Run("general data and attorneys included", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, rep, Options{IncludeGeneralData: true, IncludeAttorneys: true}))

		var decoded struct {
			Data []map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded.Data, 1)
		rec := decoded.Data[0]
		assert.Equal(t, "123456/2020", rec["case_number"])
		assert.EqualValues(t, 5, rec["docs"])
		assert.Equal(t, "Supreme", rec["court"])
		assert.Equal(t, "", rec["justice name"])
		assert.Contains(t, rec, "attorneys")
	})

	t.Run("optional sections omitted", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, rep, Options{}))

		var decoded struct {
			Data []map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		rec := decoded.Data[0]
		assert.Len(t, rec, 2)
		assert.Equal(t, "123456/2020", rec["case_number"])
		assert.NotContains(t, rec, "attorneys")

		// The source report keeps its data.
		assert.NotNil(t, rep.Data[0].GeneralData)
	})
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	rep := New("1/2020")
	rep.Append(CaseRecord{CaseNumber: "1/2020", Docs: 1, GeneralData: sampleGeneralData("1/2020")})
	require.NoError(t, rep.Finalize(1))

	now := time.Unix(1700000000, 123)
	path, err := WriteFile(dir, rep, Options{IncludeGeneralData: true}, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "output_1700000000000000123.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input_case_number": "1/2020"`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should not remain")
}
