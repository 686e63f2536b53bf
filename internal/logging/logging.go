// Package logging gives every component a bracketed-tag logger, the same
// `log.Printf("[Tag] ...")` convention used throughout this service — no
// structured-logging library is introduced for this concern.
package logging

import "log"

// Logger prefixes every line with a fixed tag, e.g. "[Scheduler]".
type Logger struct {
	tag string
}

// New returns a Logger that prefixes messages with "[tag]".
func New(tag string) Logger {
	return Logger{tag: tag}
}

func (l Logger) Printf(format string, args ...any) {
	log.Printf("["+l.tag+"] "+format, args...)
}

func (l Logger) Println(args ...any) {
	log.Println(append([]any{"[" + l.tag + "]"}, args...)...)
}
