package research

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

const researcherSystem = `You are a thorough researcher.
Gather information from several angles to answer the user's question.

Your job:
1. Work out what information the answer needs
2. If something is still missing, propose a new search query
3. Report when enough information has been gathered

Guidelines:
- Search from a different angle than previous queries
- Look for more than one source to confirm facts
- Prefer recent information

Reply with JSON only, in this exact shape:

` + "```json" + `
{
  "is_sufficient": false,
  "reasoning": "why more searching is needed, or why the evidence is enough",
  "next_query": "the next query to run (only when is_sufficient is false)"
}
` + "```"

const writerSystem = `You are a skilled research writer.
Write a complete and accurate answer to the user's question from the gathered information.

Rules:
1. Base every claim on the gathered information
2. Cite source URLs
3. Combine information from several sources
4. Say plainly when something could not be found
5. Format the answer in Markdown

Structure:
- Summary (a short direct answer)
- Details (the longer explanation)
- Sources (the URLs you used)`

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// decision is the researcher's verdict on the evidence so far.
type decision struct {
	IsSufficient bool   `json:"is_sufficient"`
	Reasoning    string `json:"reasoning"`
	NextQuery    string `json:"next_query"`
}

// parseDecision decodes a researcher reply, accepting a fenced block.
func parseDecision(text string) (decision, error) {
	body := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		body = m[1]
	}
	var d decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return decision{}, &fgerrors.ParseError{What: "researcher reply", Reason: err.Error()}
	}
	d.NextQuery = strings.TrimSpace(d.NextQuery)
	return d, nil
}

func researcherPrompt(s State) string {
	past := "none"
	if len(s.SearchQueries) > 0 {
		past = strings.Join(s.SearchQueries, ", ")
	}

	gathered := "Nothing gathered yet."
	if len(s.Evidence) > 0 {
		lines := make([]string, 0, len(s.Evidence))
		for i, e := range s.Evidence {
			lines = append(lines, fmt.Sprintf("%d. %s: %s...", i+1, e.Title, truncate(e.Content, 200)))
		}
		gathered = strings.Join(lines, "\n")
	}

	return fmt.Sprintf("## Question\n%s\n\n## Previous queries\n%s\n\n## Gathered so far\n%s\n\n"+
		"Decide whether more searching is needed. If it is, propose the next query.",
		s.Question, past, gathered)
}

func writerPrompt(s State) string {
	var sources strings.Builder
	if len(s.Evidence) == 0 {
		sources.WriteString("No information could be gathered.")
	}
	for i, e := range s.Evidence {
		fmt.Fprintf(&sources, "### Source %d\nTitle: %s\nURL: %s\nContent: %s\n\n", i+1, e.Title, e.URL, e.Content)
	}
	return fmt.Sprintf("## Question\n%s\n\n## Gathered information\n%s\n\nWrite the answer from the information above.",
		s.Question, strings.TrimSpace(sources.String()))
}
