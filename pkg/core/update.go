package core

// SearchMatch is one hit of a rule or the search query in the view.
// Line is a display line index; Start and End are byte offsets within it.
type SearchMatch struct {
	Line          int    `json:"line"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	RuleID        string `json:"rule_id,omitempty"`
	ExtractedText string `json:"extracted,omitempty"`
}

// Bookmark is a navigable extracted value.
type Bookmark struct {
	RuleID string `json:"rule_id"`
	Text   string `json:"text"`
	Line   int    `json:"line"`
}

// UpdateKind tags the payload of an Update.
type UpdateKind string

const (
	// UpdateAppend inserts Text at display line Offset.
	UpdateAppend UpdateKind = "append"
	// UpdateClear empties the view.
	UpdateClear UpdateKind = "clear"
	// UpdateRules carries a rule delta and per-rule matches.
	UpdateRules UpdateKind = "rules"
	// UpdateRescan replaces all matches of Rule.
	UpdateRescan UpdateKind = "rescan"
	// UpdateSearch carries the full list of search hits.
	UpdateSearch UpdateKind = "search"
)

// Update is what a view publishes to its presentation layer.
type Update struct {
	View        string        `json:"view"`
	Kind        UpdateKind    `json:"kind"`
	Text        string        `json:"text,omitempty"`
	Offset      int           `json:"offset"`
	Lines       int           `json:"lines,omitempty"`
	Matches     []SearchMatch `json:"matches,omitempty"`
	SearchLines []int         `json:"search_lines,omitempty"`
	Rule        string        `json:"rule,omitempty"`
	Rules       *RuleDelta    `json:"rules,omitempty"`
	Bookmarks   []Bookmark    `json:"bookmarks,omitempty"`
	Seq         uint64        `json:"seq"`
}
