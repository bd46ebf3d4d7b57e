/*
Package config loads crewflow's settings from a YAML or JSON file and the
environment.

Load reads the file and overlays CREWFLOW_ variables, where "__" separates
path segments:

	CREWFLOW_LLM__API_KEY=sk-...        -> llm.api_key
	CREWFLOW_STORAGE__CHECKPOINT=redis  -> storage.checkpoint

The result is a Config, read through typed accessors with a fallback:

	cfg, err := config.Load("crewflow.yaml")
	model := cfg.String("llm.model", "claude-sonnet-4-5")
	delay := cfg.Duration("director.revision_delay", 10*time.Second)

Environment values arrive as strings, so Int, Float, Bool and Duration
parse strings as well as native values. Durations also accept a bare
number of seconds. A value that does not convert, such as 2.5 read as an
Int, yields the fallback.

SettingsFrom maps a Config onto Settings, with DefaultSettings filling
every gap. Config values are never modified in place: With and WithEnv
return copies.
*/
package config
