// internal/extract/extract_test.go
package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractGeneralData(t *testing.T) {
	t.Run("label value pairs", func(t *testing.T) {
		got := ExtractGeneralData([]string{"Court:", "Supreme", "Index Number:", "12345", "Case Name:", "Doe v. Roe"})

		want := map[string]string{}
		for _, f := range GeneralFields {
			want[f] = ""
		}
		want["court"] = "Supreme"
		want["index number"] = "12345"
		want["case name"] = "Doe v. Roe"

		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("general data mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("first match wins", func(t *testing.T) {
		got := ExtractGeneralData([]string{"Court:", "Supreme", "Court:", "County"})
		assert.Equal(t, "Supreme", got["court"])
	})

	t.Run("labels are trimmed and case folded and values trimmed", func(t *testing.T) {
		got := ExtractGeneralData([]string{"  JUSTICE NAME: ", "  Hon. A. Smith  ", "Jury Status:", "Jury"})
		assert.Equal(t, "Hon. A. Smith", got["justice name"])
		assert.Equal(t, "Jury", got["jury status"])
	})

	t.Run("each field matched independently", func(t *testing.T) {
		got := ExtractGeneralData([]string{
			"Calendar Number:", "7",
			"Date NOI Due:", "01/02/2020",
			"NOI Filed:", "02/03/2020",
			"RJI Filed:", "Yes",
			"Disposition Date:", "",
			"Track:", "Standard",
			"Case Type:", "Torts",
		})
		assert.Equal(t, "7", got["calendar number"])
		assert.Equal(t, "01/02/2020", got["date noi due"])
		assert.Equal(t, "02/03/2020", got["noi filed"])
		assert.Equal(t, "Yes", got["rji filed"])
		assert.Equal(t, "", got["disposition date"])
		assert.Equal(t, "Standard", got["track"])
		assert.Equal(t, "Torts", got["case type"])
		assert.Equal(t, "", got["index number"])
	})

	t.Run("trailing label has no value", func(t *testing.T) {
		got := ExtractGeneralData([]string{"Court:"})
		assert.Equal(t, "", got["court"])
		assert.Len(t, got, len(GeneralFields))
	})
}

const attorneyTable = `<table>
  <tr><td colspan="2"><b>Plaintiff/Petitioner</b></td></tr>
  <tr><td>SMITH &amp; JONES LLP</td><td>(212) 555-0100</td></tr>
  <tr><td colspan="2">Attorney Direction: Appearing</td></tr>
  <tr><td>ROE LAW PC</td><td>(212) 555-0101</td></tr>
  <tr><td></td><td>ignored</td></tr>
  <tr><td colspan="2">Defendant/Respondent</td></tr>
  <tr><td>DOE   COUNSEL</td><td>(718) 555-0199</td></tr>
  <tr><td><table><tr><td>Nested</td></tr></table></td><td>x</td></tr>
</table>`

func TestParseAttorneys(t *testing.T) {
	got, err := ParseAttorneys(attorneyTable)
	require.NoError(t, err)

	want := &Attorneys{
		Plaintiff: []Attorney{
			{Atty: "SMITH & JONES LLP", Direction: "Attorney Direction: Appearing"},
			{Atty: "ROE LAW PC"},
		},
		Defendant: []Attorney{
			{Atty: "DOE COUNSEL"},
			{Atty: "Nested"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attorneys mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAttorneysEdgeCases(t *testing.T) {
	t.Run("direction before any attorney is dropped", func(t *testing.T) {
		got, err := ParseAttorneys(`<table><tr><td colspan="2">Direction</td></tr></table>`)
		require.NoError(t, err)
		assert.Empty(t, got.Plaintiff)
		assert.Empty(t, got.Defendant)
	})

	t.Run("missing table", func(t *testing.T) {
		_, err := ParseAttorneys(`<div>no table</div>`)
		assert.Error(t, err)
	})
}
