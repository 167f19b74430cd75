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

package runtime

import (
	"context"
	"fmt"

	"github.com/dtasm/dtasm-go/dtasm"
)

const baseReadBufferSize = 2048

// scopedAlloc tracks linear-memory allocations made during one dispatcher
// operation so every exit path — success or error — frees exactly what
// was allocated (Design Notes §9: a scoped acquisition abstraction).
type scopedAlloc struct {
	g     guestModule
	ptrs  []uint32
}

func newScopedAlloc(g guestModule) *scopedAlloc {
	return &scopedAlloc{g: g}
}

func (s *scopedAlloc) alloc(ctx context.Context, size uint32) (uint32, error) {
	ptr, err := s.g.Alloc(ctx, size)
	if err != nil {
		return 0, dtasm.Transport(err)
	}
	s.ptrs = append(s.ptrs, ptr)
	return ptr, nil
}

// release deallocates every tracked pointer, most-recently-allocated
// first, and clears the tracked set. Errors from dealloc are swallowed
// (there is nothing more a caller can do to recover an already-failing
// operation) — but the attempt itself is unconditional, matching P5
// (allocation balance).
func (s *scopedAlloc) release(ctx context.Context) {
	for i := len(s.ptrs) - 1; i >= 0; i-- {
		_ = s.g.Dealloc(ctx, s.ptrs[i])
	}
	s.ptrs = s.ptrs[:0]
}

// forget drops ptr from the tracked set without freeing it, used when a
// pointer was already explicitly deallocated along the success path.
func (s *scopedAlloc) forget(ptr uint32) {
	for i, p := range s.ptrs {
		if p == ptr {
			s.ptrs = append(s.ptrs[:i], s.ptrs[i+1:]...)
			return
		}
	}
}

// sizeNegotiatedRead implements the §4.3 protocol used by
// getModelDescription and getValues: allocate a base buffer, invoke,
// and double the buffer and retry for as long as the callee reports it
// would write more than was offered.
func sizeNegotiatedRead(
	ctx context.Context,
	g guestModule,
	sc *scopedAlloc,
	call func(out, max uint32) (written uint32, err error),
) ([]byte, error) {
	size := uint32(baseReadBufferSize)
	out, err := sc.alloc(ctx, size)
	if err != nil {
		return nil, err
	}

	written, err := call(out, size)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	for written > size {
		if err := g.Dealloc(ctx, out); err != nil {
			return nil, dtasm.Transport(err)
		}
		sc.forget(out)
		size *= 2
		out, err = sc.alloc(ctx, size)
		if err != nil {
			return nil, err
		}
		written, err = call(out, size)
		if err != nil {
			return nil, dtasm.Transport(err)
		}
	}

	data, err := g.ReadMemory(ctx, out, written)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	if err := g.Dealloc(ctx, out); err != nil {
		return nil, dtasm.Transport(err)
	}
	sc.forget(out)
	return data, nil
}

// fixedSizeRead implements the §4.3 protocol used by init, setValues and
// doStep: a single allocate/invoke/read/free round trip against a
// response whose worst-case size is known ahead of time. A callee that
// reports a larger size than offered is a hard DtasmInternalError — the
// asymmetry with sizeNegotiatedRead is intentional (§4.3).
func fixedSizeRead(
	ctx context.Context,
	g guestModule,
	sc *scopedAlloc,
	size uint32,
	op string,
	call func(out, max uint32) (written uint32, err error),
) ([]byte, error) {
	out, err := sc.alloc(ctx, size)
	if err != nil {
		return nil, err
	}
	written, err := call(out, size)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	if written > size {
		return nil, dtasm.DtasmInternalError(fmt.Sprintf("Unexpected size returned from %s: %d", op, written))
	}
	data, err := g.ReadMemory(ctx, out, written)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	if err := g.Dealloc(ctx, out); err != nil {
		return nil, dtasm.Transport(err)
	}
	sc.forget(out)
	return data, nil
}

// allocAndWriteRequest copies an encoded request into linear memory,
// returning its pointer and length.
func allocAndWriteRequest(ctx context.Context, g guestModule, sc *scopedAlloc, req []byte) (ptr, length uint32, err error) {
	length = uint32(len(req))
	ptr, err = sc.alloc(ctx, length)
	if err != nil {
		return 0, 0, err
	}
	if err := g.WriteMemory(ctx, ptr, req); err != nil {
		return 0, 0, dtasm.Transport(err)
	}
	return ptr, length, nil
}
