// Package monitoring holds the diagnostic logging hook shared by the solvers.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// receives solver warnings such as exhausted restarts or optimizer failures.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
