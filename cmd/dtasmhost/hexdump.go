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

package main

import (
	"fmt"
	"strings"

	"github.com/imroc/biu"
)

// hexdump renders data sixteen bytes per line, each line annotated with
// both its hex and bit-level representation (biu.BytesToBinaryString)
// for --hexdump debugging of the encoded model-description buffer.
func hexdump(data []byte) string {
	var b strings.Builder
	const width = 16
	for off := 0; off < len(data); off += width {
		end := off + width
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		fmt.Fprintf(&b, "%08x  ", off)
		for _, c := range chunk {
			fmt.Fprintf(&b, "%02x ", c)
		}
		for i := len(chunk); i < width; i++ {
			b.WriteString("   ")
		}
		b.WriteString(" ")
		b.WriteString(biu.BytesToBinaryString(chunk))
		b.WriteByte('\n')
	}
	return b.String()
}
