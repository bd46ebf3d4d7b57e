package research

// Node IDs.
const (
	NodeResearcher = "researcher"
	NodeWriter     = "writer"
)

// MaxLoops is the default cap on researcher iterations.
const MaxLoops = 3

// DefaultMaxResults is the number of search hits requested per query.
const DefaultMaxResults = 5

// Evidence is one search hit.
type Evidence struct {
	Content string `json:"content"`
	URL     string `json:"url"`
	Title   string `json:"title"`
}

// Source is the citation form of Evidence.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// State is the research workflow state. SearchQueries and Evidence only
// grow; LoopCount grows by one per researcher pass.
type State struct {
	Question      string     `json:"question"`
	SearchQueries []string   `json:"search_queries"`
	Evidence      []Evidence `json:"evidence"`
	LoopCount     int        `json:"loop_count"`
	MaxLoops      int        `json:"max_loops"`
	IsSufficient  bool       `json:"is_sufficient"`
	FinalAnswer   string     `json:"final_answer"`
}

// NewState returns the initial state for question.
func NewState(question string, maxLoops int) State {
	if maxLoops < 1 {
		maxLoops = MaxLoops
	}
	return State{
		Question:      question,
		SearchQueries: []string{},
		Evidence:      []Evidence{},
		MaxLoops:      maxLoops,
	}
}

// Sources returns the citations of the gathered evidence.
func (s State) Sources() []Source {
	out := make([]Source, 0, len(s.Evidence))
	for _, e := range s.Evidence {
		out = append(out, Source{Title: e.Title, URL: e.URL})
	}
	return out
}

// LatestQuery returns the most recent search query, or "".
func (s State) LatestQuery() string {
	if len(s.SearchQueries) == 0 {
		return ""
	}
	return s.SearchQueries[len(s.SearchQueries)-1]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
