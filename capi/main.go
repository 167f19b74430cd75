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

// Command capi is the minimal C-ABI shim of spec §1(c): a thin cgo
// layer that lets a C host load a module and drive it through the same
// engine/module/instance trio the Go host uses, built with
// `go build -buildmode=c-shared`.
//
// Every function that hands the caller a buffer (getModelDescription,
// getValues, doStep) allocates it with C.malloc so the caller owns
// standard C memory; dtasm_free_buffer is the one and only way to
// release it, including any string payloads inside it. The original
// implementation's free routine for getValues results left their string
// payloads allocated — that bug is not reproduced here (SPEC_FULL §7,
// Q3).
package main

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"context"
	"os"
	"sync"
	"unsafe"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
	"github.com/dtasm/dtasm-go/runtime"
)

// handles maps an opaque integer handed to C callers to a live Go
// object. cgo export signatures cannot carry Go pointers across the
// boundary safely across multiple calls, so every stateful object is
// held here and addressed by handle instead.
var (
	handleMu   sync.Mutex
	nextHandle C.longlong
	engines    = map[C.longlong]*runtime.Engine{}
	modules    = map[C.longlong]*runtime.Module{}
	instances  = map[C.longlong]*runtime.Instance{}
)

func newHandle() C.longlong {
	handleMu.Lock()
	defer handleMu.Unlock()
	nextHandle++
	return nextHandle
}

var bgCtx = context.Background()

//export dtasm_engine_new
func dtasm_engine_new() C.longlong {
	logger := log.New("component", "capi")
	eng, err := runtime.NewEngine(bgCtx, logger)
	if err != nil {
		logger.Error("engine init failed", "err", err)
		return 0
	}
	h := newHandle()
	handleMu.Lock()
	engines[h] = eng
	handleMu.Unlock()
	return h
}

//export dtasm_engine_free
func dtasm_engine_free(engineHandle C.longlong) {
	handleMu.Lock()
	eng, ok := engines[engineHandle]
	delete(engines, engineHandle)
	handleMu.Unlock()
	if ok {
		eng.Close(bgCtx)
	}
}

//export dtasm_module_load
func dtasm_module_load(engineHandle C.longlong, path *C.char) C.longlong {
	handleMu.Lock()
	eng, ok := engines[engineHandle]
	handleMu.Unlock()
	if !ok {
		return 0
	}
	wasmBytes, err := os.ReadFile(C.GoString(path))
	if err != nil {
		return 0
	}
	mod, err := eng.CompileModule(bgCtx, wasmBytes)
	if err != nil {
		return 0
	}
	h := newHandle()
	handleMu.Lock()
	modules[h] = mod
	handleMu.Unlock()
	return h
}

//export dtasm_module_free
func dtasm_module_free(moduleHandle C.longlong) {
	handleMu.Lock()
	mod, ok := modules[moduleHandle]
	delete(modules, moduleHandle)
	handleMu.Unlock()
	if ok {
		mod.Close(bgCtx)
	}
}

//export dtasm_instance_new
func dtasm_instance_new(moduleHandle C.longlong, name *C.char) C.longlong {
	handleMu.Lock()
	mod, ok := modules[moduleHandle]
	handleMu.Unlock()
	if !ok {
		return 0
	}
	inst, err := mod.Instantiate(bgCtx, C.GoString(name))
	if err != nil {
		return 0
	}
	h := newHandle()
	handleMu.Lock()
	instances[h] = inst
	handleMu.Unlock()
	return h
}

//export dtasm_instance_free
func dtasm_instance_free(instanceHandle C.longlong) {
	handleMu.Lock()
	inst, ok := instances[instanceHandle]
	delete(instances, instanceHandle)
	handleMu.Unlock()
	if ok {
		inst.Close(bgCtx)
	}
}

// dtasm_free_buffer releases a buffer previously returned by
// dtasm_get_model_description, dtasm_get_values or dtasm_do_step. It is
// the caller's responsibility to call this exactly once per buffer.
//
//export dtasm_free_buffer
func dtasm_free_buffer(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func cBuffer(data []byte, outLen *C.longlong) *C.char {
	*outLen = C.longlong(len(data))
	if len(data) == 0 {
		return nil
	}
	buf := C.malloc(C.size_t(len(data)))
	C.memcpy(buf, unsafe.Pointer(&data[0]), C.size_t(len(data)))
	return (*C.char)(buf)
}

func lookupInstance(h C.longlong) *runtime.Instance {
	handleMu.Lock()
	defer handleMu.Unlock()
	return instances[h]
}

//export dtasm_get_model_description
func dtasm_get_model_description(instanceHandle C.longlong, outLen *C.longlong) *C.char {
	inst := lookupInstance(instanceHandle)
	if inst == nil {
		*outLen = 0
		return nil
	}
	md, err := inst.GetModelDescription(bgCtx)
	if err != nil {
		*outLen = 0
		return nil
	}
	b := dtasm.NewBuilder()
	return cBuffer(b.EncodeModelDescription(md), outLen)
}

//export dtasm_init
func dtasm_init(instanceHandle C.longlong, reqPtr *C.char, reqLen C.longlong, startTime C.double) C.int {
	inst := lookupInstance(instanceHandle)
	if inst == nil {
		return C.int(dtasm.StatusError)
	}
	req, err := dtasm.DecodeInitReq(C.GoBytes(unsafe.Pointer(reqPtr), C.int(reqLen)))
	if err != nil {
		return C.int(dtasm.StatusError)
	}
	req.StartTime = float64(startTime)
	var endTime, tolerance *float64
	if req.EndTimeSet {
		endTime = &req.EndTime
	}
	if req.ToleranceSet {
		tolerance = &req.Tolerance
	}
	status, err := inst.Initialize(bgCtx, req.InitValues, req.StartTime, endTime, tolerance, req.LogLevelLimit, req.CheckConsistency)
	if err != nil {
		return C.int(dtasm.StatusError)
	}
	return C.int(status)
}

//export dtasm_get_values
func dtasm_get_values(instanceHandle C.longlong, idsPtr *C.int, idCount C.longlong, outLen *C.longlong) *C.char {
	inst := lookupInstance(instanceHandle)
	if inst == nil {
		*outLen = 0
		return nil
	}
	ids := make([]int32, idCount)
	if idCount > 0 {
		raw := unsafe.Slice(idsPtr, int(idCount))
		for i, v := range raw {
			ids[i] = int32(v)
		}
	}
	res, err := inst.GetValues(bgCtx, ids)
	if err != nil {
		*outLen = 0
		return nil
	}
	b := dtasm.NewBuilder()
	return cBuffer(b.EncodeGetValuesRes(res), outLen)
}

//export dtasm_set_values
func dtasm_set_values(instanceHandle C.longlong, reqPtr *C.char, reqLen C.longlong) C.int {
	inst := lookupInstance(instanceHandle)
	if inst == nil {
		return C.int(dtasm.StatusError)
	}
	vals, err := dtasm.DecodeSetValuesReq(C.GoBytes(unsafe.Pointer(reqPtr), C.int(reqLen)))
	if err != nil {
		return C.int(dtasm.StatusError)
	}
	status, err := inst.SetValues(bgCtx, vals)
	if err != nil {
		return C.int(dtasm.StatusError)
	}
	return C.int(status)
}

//export dtasm_do_step
func dtasm_do_step(instanceHandle C.longlong, currentTime, timestep C.double, outLen *C.longlong) *C.char {
	inst := lookupInstance(instanceHandle)
	if inst == nil {
		*outLen = 0
		return nil
	}
	res, err := inst.DoStep(bgCtx, float64(currentTime), float64(timestep))
	if err != nil {
		*outLen = 0
		return nil
	}
	b := dtasm.NewBuilder()
	return cBuffer(b.EncodeDoStepRes(res), outLen)
}

func main() {}
