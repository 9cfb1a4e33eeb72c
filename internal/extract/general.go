// internal/extract/general.go
package extract

import "strings"

// GeneralFields are the case-detail labels that are extracted, in report order.
var GeneralFields = []string{
	"court",
	"index number",
	"case name",
	"case type",
	"track",
	"rji filed",
	"date noi due",
	"noi filed",
	"disposition date",
	"calendar number",
	"jury status",
	"justice name",
}

// FieldIndexNumber is the general-data key that carries the case number.
const FieldIndexNumber = "index number"

// ExtractGeneralData walks label/value cells in document order. A cell whose trimmed,
// lower-cased text ends with "<field>:" labels the next cell as that field's value.
// The first match for a field wins; unmatched fields are present with an empty value.
func ExtractGeneralData(cells []string) map[string]string {
	data := make(map[string]string, len(GeneralFields))
	for _, f := range GeneralFields {
		data[f] = ""
	}

	matched := make(map[string]bool, len(GeneralFields))
	for i := 0; i+1 < len(cells); i++ {
		label := strings.ToLower(strings.TrimSpace(cells[i]))
		if !strings.HasSuffix(label, ":") {
			continue
		}
		for _, f := range GeneralFields {
			if matched[f] || !strings.HasSuffix(label, f+":") {
				continue
			}
			data[f] = strings.TrimSpace(cells[i+1])
			matched[f] = true
		}
	}
	return data
}
