// Package config loads application settings from an optional config.yaml and
// COMPOSITOR_* environment variables, applies defaults and validates the
// result. Optional integrations (history database, API auth, Redis events)
// are switched off by leaving their settings empty.
package config
