// Package terminal adjusts the controlling terminal for key-driven overrides.
package terminal

func noop() error { return nil }
