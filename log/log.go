// Copyright 2024 The dtasm-go Authors
// This file is part of dtasm-go.
//
// dtasm-go is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dtasm-go is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with dtasm-go. If not, see <http://www.gnu.org/licenses/>.

// Package log is dtasm-go's structured, leveled logger. Every package in
// this repository logs through it rather than through fmt or the
// standard library's log package.
package log

import (
	"os"
	"time"

	"github.com/go-stack/stack"
)

// Level is a log verbosity, ordered least to most severe.
type Level int

const (
	LvlTrace Level = iota
	LvlDebug
	LvlInfo
	LvlWarn
	LvlError
	LvlCrit
)

func (l Level) String() string {
	switch l {
	case LvlTrace:
		return "TRACE"
	case LvlDebug:
		return "DEBUG"
	case LvlInfo:
		return "INFO"
	case LvlWarn:
		return "WARN"
	case LvlError:
		return "ERROR"
	case LvlCrit:
		return "CRIT"
	default:
		return "???"
	}
}

// Record is one emitted log line.
type Record struct {
	Time    time.Time
	Lvl     Level
	Msg     string
	Ctx     []interface{}
	Call    stack.Call
}

// Handler writes a Record somewhere.
type Handler interface {
	Log(r *Record) error
}

// Logger is the leveled, context-carrying interface every package in
// this repository logs through.
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
	ctx     []interface{}
	handler Handler
}

// Root is the default logger, writing to a terminal-aware handler on
// stderr. Call SetHandler to replace it (e.g. to point at a file).
var root = &logger{handler: defaultHandler()}

// Root returns the package-wide default Logger.
func Root() Logger { return root }

// New returns the Root logger's New, letting callers do log.New("k", v)
// without first calling log.Root().
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

// SetHandler replaces the Root logger's handler.
func SetHandler(h Handler) { root.handler = h }

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{handler: l.handler}
	child.ctx = append(append([]interface{}{}, l.ctx...), ctx...)
	return child
}

func (l *logger) write(lvl Level, msg string, ctx []interface{}) {
	r := &Record{
		Time: time.Now(),
		Lvl:  lvl,
		Msg:  msg,
		Ctx:  append(append([]interface{}{}, l.ctx...), ctx...),
	}
	if lvl == LvlCrit {
		r.Call = stack.Caller(2)
	}
	if err := l.handler.Log(r); err != nil {
		os.Stderr.WriteString("log: " + err.Error() + "\n")
	}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }
