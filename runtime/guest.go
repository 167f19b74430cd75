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

import "context"

// guestModule is everything the dispatcher needs from a linked sandbox
// VM instance. wazeroGuest (module.go) implements it against a real
// wazero module; fakeGuest (in tests) implements it in-process so the
// dispatcher's protocol logic can be exercised without a real sandbox.
type guestModule interface {
	Alloc(ctx context.Context, size uint32) (uint32, error)
	Dealloc(ctx context.Context, ptr uint32) error

	ReadMemory(ctx context.Context, ptr, size uint32) ([]byte, error)
	WriteMemory(ctx context.Context, ptr uint32, data []byte) error

	CallGetModelDescription(ctx context.Context, out, max uint32) (written uint32, err error)
	CallInit(ctx context.Context, in, inLen, out, max uint32) (written uint32, err error)
	CallGetValues(ctx context.Context, in, inLen, out, max uint32) (written uint32, err error)
	CallSetValues(ctx context.Context, in, inLen, out, max uint32) (written uint32, err error)
	CallDoStep(ctx context.Context, in, inLen, out, max uint32) (written uint32, err error)

	HasInitializeHook() bool
	CallInitializeHook(ctx context.Context) error

	MemoryPageCount(ctx context.Context) uint32
	GrowMemory(ctx context.Context, deltaPages uint32) (previous uint32, ok bool)
	ReadAllMemory(ctx context.Context) ([]byte, error)
	WriteAllMemory(ctx context.Context, data []byte) error

	Close(ctx context.Context) error
}

// memoryPageSize is the sandbox VM's fixed linear-memory page size.
const memoryPageSize = 65536
