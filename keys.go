package laps

import "fmt"

// Broker key naming. Every queue, set, and hash the runtime touches is
// derived from these functions, and for a fixed (name, version, test
// mode) every call returns the identical string. Test mode swaps every
// prefix into an isolated namespace so tests never touch production
// keys.

// WorkerKey builds a key owned by a single worker module:
// laps.runner.<name>:<version>.<suffix>, or the laps.test.runner
// variant in test mode.
func WorkerKey(name, version string, testMode bool, suffix string) string {
	prefix := "laps.runner"
	if testMode {
		prefix = "laps.test.runner"
	}
	return fmt.Sprintf("%s.%s:%s.%s", prefix, name, version, suffix)
}

// BackendKey builds a key shared with the backend:
// laps.backend.<suffix>, or laps.testing.backend.<suffix> in test mode.
func BackendKey(testMode bool, suffix string) string {
	if testMode {
		return fmt.Sprintf("laps.testing.backend.%s", suffix)
	}
	return fmt.Sprintf("laps.backend.%s", suffix)
}

// Key builds a general key outside the worker and backend namespaces:
// laps.<suffix>, or laps.testing.<suffix> in test mode.
func Key(testMode bool, suffix string) string {
	if testMode {
		return fmt.Sprintf("laps.testing.%s", suffix)
	}
	return fmt.Sprintf("laps.%s", suffix)
}

// WorkKey returns the list a worker dequeues job envelopes from.
func WorkKey(name, version string, testMode bool) string {
	return WorkerKey(name, version, testMode, "work")
}

// RegisterKey returns the queue the backend consumes registration
// tokens from.
func RegisterKey(testMode bool) string {
	return BackendKey(testMode, "register-module")
}

// ShutdownKey returns the queue shutdown notices are pushed onto.
func ShutdownKey(testMode bool) string {
	return BackendKey(testMode, "module-shutdown")
}

// ResultsKey returns the list job results are pushed onto.
func ResultsKey(testMode bool) string {
	return BackendKey(testMode, "path-results")
}

// RegisteredModulesKey returns the set of identity tokens the backend
// has accepted.
func RegisteredModulesKey(testMode bool) string {
	return BackendKey(testMode, "registered_modules")
}

// LogKey returns the shared module log stream.
func LogKey(testMode bool) string {
	return Key(testMode, "moduleLogs")
}

// MapImageKey returns the hash holding map images keyed by map id.
func MapImageKey(testMode bool) string {
	return Key(testMode, "mapdata.image")
}

// MapMetaKey returns the hash holding map metadata keyed by map id.
func MapMetaKey(testMode bool) string {
	return Key(testMode, "mapdata.meta")
}
