// Package director runs a persona-driven draft, review and revise loop on
// the flowgraph engine.
//
// The graph is fixed:
//
//	generator -> reflector -> (generator | human_review)
//	human_review -> (output_preparation | END)
//	output_preparation -> END
//
// The generator drafts as a Persona and retries rate-limited LLM calls with
// backoff. The reflector scores the draft (see ParseEvaluation) and ends the
// loop once the score passes or the revision cap is reached. Runs started
// with RequiresApproval park before human_review until Workflow.Resume
// applies a reviewer decision; other runs pass straight through.
package director
