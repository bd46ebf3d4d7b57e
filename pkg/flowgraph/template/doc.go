/*
Package template expands {key} placeholders in prompt instructions.

# Overview

Project steps are written by people as instructions with named holes:

	Summarise {source} for {audience}.

At run time each hole is filled from the project's input values. Keys are
any run of characters without braces, whitespace, or '$', so non-ASCII keys
work as written.

# Basic Usage

	out := template.Expand("Summarise {source}", map[string]string{"source": "the report"})
	// out: "Summarise the report"

Missing keys are kept as-is by default, which leaves literal braces in
prompts (JSON examples, code) untouched.

# Missing Keys

	exp := template.NewExpander(template.OnMissing(template.ReportMissing))
	_, err := exp.Expand("Hello {who}", nil)
	// err: "undefined variable: who"

# Dollar Braces

${key} is left alone unless WithDollarBraces() is set, in which case it
expands exactly like {key}.

# Thread Safety

Expander is safe for concurrent use after construction.
*/
package template
