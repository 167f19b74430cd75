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

package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var levelColor = map[Level]*color.Color{
	LvlTrace: color.New(color.FgHiBlack),
	LvlDebug: color.New(color.FgCyan),
	LvlInfo:  color.New(color.FgGreen),
	LvlWarn:  color.New(color.FgYellow),
	LvlError: color.New(color.FgRed),
	LvlCrit:  color.New(color.FgHiRed, color.Bold),
}

// StreamHandler formats each Record as a single line and writes it to w.
// When constructed with useColor it colorizes the level tag using
// fatih/color. It does not inspect w itself: the terminal detection
// (mattn/go-isatty) and the mattn/go-colorable wrapping for Windows
// consoles are done by defaultHandler before it calls NewStreamHandler.
type StreamHandler struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
}

// NewStreamHandler builds a StreamHandler over w.
func NewStreamHandler(w io.Writer, useColor bool) *StreamHandler {
	return &StreamHandler{w: w, color: useColor}
}

func defaultHandler() Handler {
	useColor := false
	w := io.Writer(os.Stderr)
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		useColor = true
		w = colorable.NewColorable(f)
	}
	return NewStreamHandler(w, useColor)
}

func (h *StreamHandler) Log(r *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lvl := r.Lvl.String()
	if h.color {
		if c, ok := levelColor[r.Lvl]; ok {
			lvl = c.Sprint(lvl)
		}
	}

	fmt.Fprintf(h.w, "%s [%-5s] %s", r.Time.Format("2006-01-02T15:04:05.000"), lvl, r.Msg)
	for i := 0; i+1 < len(r.Ctx); i += 2 {
		fmt.Fprintf(h.w, " %v=%v", r.Ctx[i], r.Ctx[i+1])
	}
	if r.Lvl == LvlCrit {
		fmt.Fprintf(h.w, " caller=%v", r.Call)
	}
	fmt.Fprintln(h.w)
	return nil
}
