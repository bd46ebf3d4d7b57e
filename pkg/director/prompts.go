package director

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/template"
)

// DefaultPersona writes when a request names none.
var DefaultPersona = Persona{
	ID:          "default",
	Name:        "Crew",
	Role:        "assistant",
	Description: "Clear, friendly and precise. Leads with the answer, then the details.",
}

const generatorSystem = `You are {name}, an AI assistant.

Role: {role}
Personality and voice: {description}

Answer format:
- Write in Markdown
- Use bullet points for the key points
- Stay in character for the whole answer
- End with a short closing line in your own voice`

const reviewerSystem = `You are a constructive director reviewing a crew member's work.
Acknowledge what is good, then point out what to improve.

Criteria:
1. Does the work broadly understand the task (perfection not required)
2. Is it free of obvious errors
3. Is the structure easy to follow
4. Does it sound like the persona

Score guide:
- 90-100: excellent, nearly perfect
- 80-89: good, minor improvements only
- 70-79: pass, a few improvements would help
- 60-69: close, major improvements needed
- below 60: needs substantial revision

Reply with JSON only, in this exact shape:

` + "```json" + `
{
  "score": 75,
  "critique": "strengths and improvements, briefly"
}
` + "```" + `

Give 70 or more when the task is broadly achieved. Keep the critique under 100 words.`

// generatorPrompt returns the system prompt and user turn for a generation.
func generatorPrompt(s State) (string, string) {
	p := s.Persona
	if p.Name == "" {
		p = DefaultPersona
	}
	system := template.Expand(generatorSystem, map[string]string{
		"name":        p.Name,
		"role":        orDefault(p.Role, DefaultPersona.Role),
		"description": orDefault(p.Description, DefaultPersona.Description),
	})

	var user strings.Builder
	fmt.Fprintf(&user, "## Task\n%s\n\n", s.Task)
	if s.RevisionCount > 0 && s.Critique != "" {
		fmt.Fprintf(&user, "## Previous draft\n%s\n\n", s.Draft)
		fmt.Fprintf(&user, "## Revision notes\n%s\n\n", s.Critique)
		user.WriteString("Revise the draft following the notes.")
	} else {
		user.WriteString("Complete the task as instructed.")
	}
	return system, user.String()
}

// reviewerPrompt returns the system prompt and user turn for an evaluation.
func reviewerPrompt(s State) (string, string) {
	name := s.Persona.Name
	if name == "" {
		name = DefaultPersona.Name
	}
	user := fmt.Sprintf("## Original task\n%s\n\n## Crew member\n%s\n\n## Work\n%s\n\nEvaluate the work above. Reply in JSON.",
		s.Task, name, s.Draft)
	return reviewerSystem, user
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
