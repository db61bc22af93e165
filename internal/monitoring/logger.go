// Package monitoring carries the process-wide diagnostic logger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced with SetLogger; tests redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// verbose gates per-sighting logging, which is far too chatty for normal
// operation. It is set once at boot from the -verbose flag.
var verbose bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables or disables Debugf output.
func SetVerbose(v bool) { verbose = v }

// Verbose reports whether debug logging is enabled.
func Verbose() bool { return verbose }

// Debugf logs through Logf only when verbose mode is on.
func Debugf(format string, v ...interface{}) {
	if verbose {
		Logf(format, v...)
	}
}
