// Package settings provides process-wide application settings with layered
// sources and typed section resolution.
//
// # Overview
//
// settings ingests configuration from a YAML file, a sibling .env file, and
// process environment variables, merges them with last-write-wins semantics
// (source priority breaking ties), and answers queries against the merged
// snapshot. Dotenv values follow godotenv conventions: $VAR references in
// unquoted and double-quoted values are expanded, single-quoted values stay
// literal. Sections declared with typed prototypes are constructed with
// defaults, overlaid with raw data, and validated against their declared
// shape; undeclared dotted paths are still resolvable as raw values.
//
// # Features
//
//   - Three-source ingestion: YAML file, dotenv, environment (env wins ties)
//   - Reserved fastapiex.settings.* namespace for runtime controls: settings
//     path, env prefix, case sensitivity, reload mode
//   - Typed section registry with collision detection and type-target lookup
//   - Fallback chain per query: declared section, raw path, caller default
//   - Reload modes off / on_change / always, plus manual Reload
//
// # Usage
//
//	mgr := settings.NewManager(settings.WithLogger(logger))
//	if err := mgr.Register(settings.Section{
//		Path:      "app",
//		Prototype: &AppSettings{Title: "demo"},
//	}); err != nil {
//		panic(err)
//	}
//	if _, err := mgr.Init(); err != nil {
//		panic(err)
//	}
//	app, err := settings.ResolveAs[AppSettings](mgr)
//
// # Concurrency
//
// A Manager is safe for concurrent use. Snapshots returned by Snapshot, Init,
// and Reload alias live internal state and must not be mutated concurrently
// with reads.
package settings
