// Package research implements an iterative search-then-write workflow.
//
// A researcher node asks the model whether the evidence gathered so far
// answers the question. If not, it runs the query the model proposes and
// loops; once the evidence is sufficient, or MaxLoops is reached, a writer
// node composes a Markdown answer citing its sources.
//
//	researcher ──(sufficient or loop cap)──▶ writer ──▶ END
//	    ▲   │
//	    └───┘ (more evidence needed)
package research
