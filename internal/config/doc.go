// Package config defines the typed Config and Account values the rest of
// this daemon consumes, plus a YAML loader and an fsnotify-based watcher
// that turns on-disk edits into reload triggers.
//
// Parsing the configuration file's grammar is explicitly a collaborator in
// ("a separate grammar/lexer"): this package is deliberately a thin
// YAML binding rather than the bespoke lexer/parser the original tool uses,
// because nothing about that grammar is part of the token-lifecycle engine
// this module implements. What the core cares about is the shape of Config
// and Account below, and the duration/override lookup rules in defaults.go.
package config
