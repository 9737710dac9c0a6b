// Copyright 2016 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package log is a small leveled, key/value logger in the style of the
// teacher's log15-descended `log` package: Logger.New(ctx...) returns a
// child logger with bound context, and each level method takes a message
// followed by alternating key/value pairs.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a logging level, ordered from least to most verbose.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "?????"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// Logger is the interface consumed throughout this module. A Logger carries
// immutable context (key/value pairs bound via New) that is emitted with
// every record.
type Logger interface {
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	ctx []interface{}
	h   *handler
}

type handler struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	level  Lvl
	caller bool
}

var root = &logger{h: newStderrHandler()}

func newStderrHandler() *handler {
	w := colorable.NewColorable(os.Stderr)
	return &handler{
		out:   w,
		color: isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
		level: LvlInfo,
	}
}

// Root returns the default, process-wide logger.
func Root() Logger { return root }

// SetLevel adjusts the root handler's verbosity threshold, to quiet or
// unmute output.
func SetLevel(l Lvl) { root.h.mu.Lock(); root.h.level = l; root.h.mu.Unlock() }

// New returns the root logger's child with ctx bound, a convenience for
// call sites that don't already hold a Logger.
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

func (l *logger) New(ctx ...interface{}) Logger {
	child := make([]interface{}, 0, len(l.ctx)+len(ctx))
	child = append(child, l.ctx...)
	child = append(child, ctx...)
	return &logger{ctx: child, h: l.h}
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > l.h.level {
		return
	}
	l.h.mu.Lock()
	defer l.h.mu.Unlock()

	ts := time.Now().Format("2006-01-02T15:04:05.000-0700")
	lvlStr := lvl.String()
	if l.h.color {
		lvlStr = levelColor[lvl].Sprint(pad(lvlStr, 5))
	} else {
		lvlStr = pad(lvlStr, 5)
	}

	fmt.Fprintf(l.h.out, "%s %s %s", ts, lvlStr, msg)
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.h.out, " %v=%v", all[i], all[i+1])
	}
	if l.h.caller {
		fmt.Fprintf(l.h.out, " caller=%v", stack.Caller(2))
	}
	fmt.Fprintln(l.h.out)
}

func pad(s string, n int) string {
	for len(s) < n {
		s = s + " "
	}
	return s
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }
