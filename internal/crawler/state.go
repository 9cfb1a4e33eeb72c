// internal/crawler/state.go
package crawler

// State is a phase of the crawl state machine.
type State int

const (
	StateIdle State = iota
	StateSearchSubmitted
	StateCaseListed
	StateCaseDetailOpen
	StateDocsAbsent
	StateDocListOpen
	StateDocsDownloaded
	StateCaseClosed
	StateFinished
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateSearchSubmitted: "search_submitted",
	StateCaseListed:      "case_listed",
	StateCaseDetailOpen:  "case_detail_open",
	StateDocsAbsent:      "docs_absent",
	StateDocListOpen:     "doc_list_open",
	StateDocsDownloaded:  "docs_downloaded",
	StateCaseClosed:      "case_closed",
	StateFinished:        "finished",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Anchor window names.
const (
	AnchorCaseSearch = "case_search"
	AnchorCaseInfo   = "case_info"
	AnchorCaseDocs   = "case_docs"
)
