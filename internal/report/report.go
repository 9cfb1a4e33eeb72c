// internal/report/report.go
package report

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/docket-cli/internal/extract"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInconsistentReport is returned when the case count disagrees with the records collected.
var ErrInconsistentReport = errors.New("report case count does not match records")

// CaseRecord is the result of crawling one case.
type CaseRecord struct {
	CaseNumber  string
	Docs        int
	GeneralData map[string]string
	Attorneys   *extract.Attorneys
}

// MarshalJSON flattens the general-data fields next to case_number and docs.
func (r CaseRecord) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(r.GeneralData)+3)
	for k, v := range r.GeneralData {
		doc[k] = v
	}
	doc["case_number"] = r.CaseNumber
	doc["docs"] = r.Docs
	if r.Attorneys != nil {
		doc["attorneys"] = r.Attorneys
	}
	return json.Marshal(doc)
}

// CrawlReport aggregates the records of one crawl run.
type CrawlReport struct {
	InputCaseNumber string       `json:"input_case_number"`
	Data            []CaseRecord `json:"data"`
	Cases           int          `json:"cases"`
}

// New starts an empty report for the searched index number.
func New(inputCaseNumber string) *CrawlReport {
	return &CrawlReport{InputCaseNumber: inputCaseNumber, Data: []CaseRecord{}}
}

// Append adds a finished case. Records are kept in crawl order.
func (r *CrawlReport) Append(rec CaseRecord) {
	r.Data = append(r.Data, rec)
}

// Finalize records how many result rows the search produced and checks that
// every row has a record.
func (r *CrawlReport) Finalize(cases int) error {
	r.Cases = cases
	if cases != len(r.Data) {
		return fmt.Errorf("%w: %d cases, %d records", ErrInconsistentReport, cases, len(r.Data))
	}
	return nil
}

// TotalDocs sums the documents processed across all cases.
func (r *CrawlReport) TotalDocs() int {
	total := 0
	for _, rec := range r.Data {
		total += rec.Docs
	}
	return total
}
