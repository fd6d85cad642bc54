// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simplex

import (
	"fmt"
	"io"
	"os"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line when the solve ends
	LogLast LogLevel = 0
	// LogStatus print also a line at every factorization and status check
	LogStatus LogLevel = 1
	// LogIter print also one line per pivot
	LogIter LogLevel = 2
	// LogDetail print also ratio test and accuracy internals
	LogDetail LogLevel = 3
	// LogVerbose print also the solution vectors
	LogVerbose LogLevel = 4
)

// Logger handles logging output for the solvers.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

// Normalize returns a usable logger, filling missing writers.
func (l *Logger) Normalize() *Logger {
	if l == nil {
		return &Logger{Level: LogNoop, Msg: io.Discard, Out: io.Discard}
	}
	c := *l
	if c.Msg == nil {
		c.Msg = os.Stdout
	}
	if c.Out == nil {
		c.Out = os.Stderr
	}
	return &c
}

// Enable reports whether messages at the level are printed.
func (l *Logger) Enable(level LogLevel) bool {
	return l.Level >= level
}

// Log writes a trace message.
func (l *Logger) Log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Output writes summary data.
func (l *Logger) Output(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

// Vector prints a labelled vector six values per line.
func (l *Logger) Vector(label string, v []float64) {
	l.Log("%s = ", label)
	for i, x := range v {
		l.Log("%.4e ", x)
		if (i+1)%6 == 0 && i+1 < len(v) {
			l.Log("\n     ")
		}
	}
	l.Log("\n")
}
