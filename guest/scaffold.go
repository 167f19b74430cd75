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

// Package guest is the informative scaffold of spec §4.4: it lets a
// module author implement Simulator and receive decoded calls from the
// host without hand-writing the (in,inLen,out,max)->written ABI glue.
//
// This is intended to be imported by a package main built with
// GOOS=wasip1 GOARCH=wasm (the sandbox VM's guest side); see
// module/add and module/dpend.
package guest

import (
	"unsafe"

	"github.com/dtasm/dtasm-go/dtasm"
)

// Simulator is the trait-like interface a module author implements.
// Design Notes (spec §9): state lives in the concrete Simulator the
// caller constructs and captures by closure in its Host — not behind a
// process-wide mutex-guarded global, eliminating the need for one
// (the sample modules' state is inherently single-threaded: the host
// guarantees one call at a time, spec §5).
type Simulator interface {
	GetModelDescription() *dtasm.ModelDescription
	Initialize(req dtasm.InitRequest) dtasm.Status
	GetValues(ids []int32) dtasm.GetValuesResponse
	SetValues(vals dtasm.VarValues) dtasm.Status
	DoStep(currentTime, timestep float64) dtasm.DoStepResponse
}

// Host wires a concrete Simulator to the five exported entry points the
// sandbox ABI requires (spec §6). One Host per module instance; its
// builder and allocation table are its only mutable, non-Simulator
// state, reset/cleared at the natural points the protocol implies.
type Host struct {
	sim         Simulator
	builder     *dtasm.Builder
	allocations map[uint32][]byte
}

// NewHost returns a Host dispatching onto sim.
func NewHost(sim Simulator) *Host {
	return &Host{
		sim:         sim,
		builder:     dtasm.NewBuilder(),
		allocations: make(map[uint32][]byte),
	}
}

// Alloc implements the guest-exported alloc(size) -> ptr. The sandbox
// VM's own linear memory backs every Go allocation in a wasip1 module,
// so returning a pointer into a pinned []byte is sufficient; pinning in
// h.allocations keeps the Go GC from reclaiming it before Dealloc.
func (h *Host) Alloc(size uint32) uint32 {
	buf := make([]byte, size)
	var ptr uint32
	if size > 0 {
		ptr = uint32(uintptr(unsafe.Pointer(&buf[0])))
	}
	h.allocations[ptr] = buf
	return ptr
}

// Dealloc implements the guest-exported dealloc(ptr) -> (). It is a
// no-op on an unknown pointer rather than a panic: the host is trusted
// to only ever dealloc what it was handed.
func (h *Host) Dealloc(ptr uint32) {
	delete(h.allocations, ptr)
}

func readMemory(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

// encodeInto writes data to (outPtr, outMax) only if it fits and always
// returns the length that was (or would have been) written — the
// "please retry with more space" idiom of spec §4.4.
func encodeInto(data []byte, outPtr, outMax uint32) uint32 {
	n := uint32(len(data))
	if n <= outMax && n > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(outPtr))), n)
		copy(dst, data)
	}
	return n
}

// GetModelDescription implements the guest-exported
// getModelDescription(out, max) -> written.
func (h *Host) GetModelDescription(outPtr, outMax uint32) uint32 {
	md := h.sim.GetModelDescription()
	data := h.builder.EncodeModelDescription(md)
	n := encodeInto(data, outPtr, outMax)
	h.builder.Reset()
	return n
}

// Init implements the guest-exported init(in, inLen, out, max) -> written.
func (h *Host) Init(inPtr, inLen, outPtr, outMax uint32) uint32 {
	req, err := dtasm.DecodeInitReq(readMemory(inPtr, inLen))
	status := dtasm.StatusError
	if err == nil {
		status = h.sim.Initialize(req)
	}
	data := h.builder.EncodeStatusRes(status)
	n := encodeInto(data, outPtr, outMax)
	h.builder.Reset()
	return n
}

// GetValues implements the guest-exported
// getValues(in, inLen, out, max) -> written.
func (h *Host) GetValues(inPtr, inLen, outPtr, outMax uint32) uint32 {
	ids, err := dtasm.DecodeGetValuesReq(readMemory(inPtr, inLen))
	var res dtasm.GetValuesResponse
	if err != nil {
		res.Status = dtasm.StatusError
	} else {
		res = h.sim.GetValues(ids)
	}
	data := h.builder.EncodeGetValuesRes(res)
	n := encodeInto(data, outPtr, outMax)
	h.builder.Reset()
	return n
}

// SetValues implements the guest-exported
// setValues(in, inLen, out, max) -> written.
func (h *Host) SetValues(inPtr, inLen, outPtr, outMax uint32) uint32 {
	vals, err := dtasm.DecodeSetValuesReq(readMemory(inPtr, inLen))
	status := dtasm.StatusError
	if err == nil {
		status = h.sim.SetValues(vals)
	}
	data := h.builder.EncodeStatusRes(status)
	n := encodeInto(data, outPtr, outMax)
	h.builder.Reset()
	return n
}

// DoStep implements the guest-exported doStep(in, inLen, out, max) -> written.
func (h *Host) DoStep(inPtr, inLen, outPtr, outMax uint32) uint32 {
	currentTime, timestep, err := dtasm.DecodeDoStepReq(readMemory(inPtr, inLen))
	var res dtasm.DoStepResponse
	if err != nil {
		res.Status = dtasm.StatusError
	} else {
		res = h.sim.DoStep(currentTime, timestep)
	}
	data := h.builder.EncodeDoStepRes(res)
	n := encodeInto(data, outPtr, outMax)
	h.builder.Reset()
	return n
}
