// Package state provides the small filesystem-backed stores the CLI keeps
// between runs: watched cases and the notice log.
package state
