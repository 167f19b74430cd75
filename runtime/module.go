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

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
)

// requiredFunctions lists the seven function exports of the eight-entry
// ABI surface every module must provide (spec §6); the eighth, memory,
// is checked separately in verifyExports.
var requiredFunctions = []struct {
	name   string
	params []api.ValueType
	result bool
}{
	{"alloc", []api.ValueType{api.ValueTypeI32}, true},
	{"dealloc", []api.ValueType{api.ValueTypeI32}, false},
	{"getModelDescription", []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, true},
	{"init", []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, true},
	{"getValues", []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, true},
	{"setValues", []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, true},
	{"doStep", []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, true},
}

const reactorInitHook = "_initialize"

// Module is a parsed bytecode artifact bound to an Engine; it may
// outlive many Instances.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
	wasm     []byte
	log      log.Logger
}

// CompileModule parses wasmBytes and verifies it carries every required
// export (spec §6, §4.3) with the expected signature (Q4 decision:
// signature checking is performed here rather than deferred).
func (e *Engine) CompileModule(ctx context.Context, wasmBytes []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, dtasm.Transport(err)
	}

	if err := verifyExports(compiled); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	return &Module{engine: e, compiled: compiled, wasm: wasmBytes, log: e.log}, nil
}

func verifyExports(compiled wazero.CompiledModule) error {
	exported := compiled.ExportedFunctions()

	if mem := compiled.ExportedMemories(); len(mem) == 0 {
		return dtasm.MissingDtasmExport("memory")
	}

	for _, req := range requiredFunctions {
		def, ok := exported[req.name]
		if !ok {
			return dtasm.MissingDtasmExport(req.name)
		}
		if err := checkSignature(req.name, def, req.params, req.result); err != nil {
			return err
		}
	}
	return nil
}

func checkSignature(name string, def api.FunctionDefinition, wantParams []api.ValueType, wantResult bool) error {
	params := def.ParamTypes()
	if len(params) != len(wantParams) {
		return dtasm.MissingDtasmExport(fmt.Sprintf("%s: expected %d params, got %d", name, len(wantParams), len(params)))
	}
	for idx, t := range wantParams {
		if params[idx] != t {
			return dtasm.MissingDtasmExport(fmt.Sprintf("%s: param %d: expected i32", name, idx))
		}
	}
	results := def.ResultTypes()
	if wantResult && (len(results) != 1 || results[0] != api.ValueTypeI32) {
		return dtasm.MissingDtasmExport(fmt.Sprintf("%s: expected a single i32 result", name))
	}
	if !wantResult && len(results) != 0 {
		return dtasm.MissingDtasmExport(fmt.Sprintf("%s: expected no result", name))
	}
	return nil
}

// Close releases the compiled module. All Instances derived from it
// must be closed first.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instantiate links and instantiates the module into a fresh sandbox VM
// store, returning a callable Instance.
func (m *Module) Instantiate(ctx context.Context, name string) (*Instance, error) {
	cfg := wazero.NewModuleConfig().WithName(name).WithStartFunctions()
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, dtasm.Transport(err)
	}

	g := &wazeroGuest{mod: mod}
	inst := newInstance(g, m.log)
	inst.module = m
	return inst, nil
}

// wazeroGuest adapts a wazero api.Module to the guestModule interface
// the dispatcher is written against.
type wazeroGuest struct {
	mod api.Module
}

func (w *wazeroGuest) call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	fn := w.mod.ExportedFunction(name)
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("%s: expected one result, got %d", name, len(results))
	}
	return results[0], nil
}

func (w *wazeroGuest) Alloc(ctx context.Context, size uint32) (uint32, error) {
	r, err := w.call(ctx, "alloc", uint64(size))
	return api.DecodeU32(r), err
}

func (w *wazeroGuest) Dealloc(ctx context.Context, ptr uint32) error {
	fn := w.mod.ExportedFunction("dealloc")
	_, err := fn.Call(ctx, uint64(ptr))
	return err
}

func (w *wazeroGuest) ReadMemory(ctx context.Context, ptr, size uint32) ([]byte, error) {
	data, ok := w.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("out-of-bounds memory read at %d, len %d", ptr, size)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (w *wazeroGuest) WriteMemory(ctx context.Context, ptr uint32, data []byte) error {
	if !w.mod.Memory().Write(ptr, data) {
		return fmt.Errorf("out-of-bounds memory write at %d, len %d", ptr, len(data))
	}
	return nil
}

func (w *wazeroGuest) CallGetModelDescription(ctx context.Context, out, max uint32) (uint32, error) {
	r, err := w.call(ctx, "getModelDescription", uint64(out), uint64(max))
	return api.DecodeU32(r), err
}

func (w *wazeroGuest) CallInit(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	r, err := w.call(ctx, "init", uint64(in), uint64(inLen), uint64(out), uint64(max))
	return api.DecodeU32(r), err
}

func (w *wazeroGuest) CallGetValues(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	r, err := w.call(ctx, "getValues", uint64(in), uint64(inLen), uint64(out), uint64(max))
	return api.DecodeU32(r), err
}

func (w *wazeroGuest) CallSetValues(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	r, err := w.call(ctx, "setValues", uint64(in), uint64(inLen), uint64(out), uint64(max))
	return api.DecodeU32(r), err
}

func (w *wazeroGuest) CallDoStep(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	r, err := w.call(ctx, "doStep", uint64(in), uint64(inLen), uint64(out), uint64(max))
	return api.DecodeU32(r), err
}

func (w *wazeroGuest) HasInitializeHook() bool {
	return w.mod.ExportedFunction(reactorInitHook) != nil
}

func (w *wazeroGuest) CallInitializeHook(ctx context.Context) error {
	fn := w.mod.ExportedFunction(reactorInitHook)
	if fn == nil {
		return nil
	}
	_, err := fn.Call(ctx)
	return err
}

func (w *wazeroGuest) MemoryPageCount(ctx context.Context) uint32 {
	return w.mod.Memory().Size() / memoryPageSize
}

func (w *wazeroGuest) GrowMemory(ctx context.Context, deltaPages uint32) (uint32, bool) {
	return w.mod.Memory().Grow(deltaPages)
}

func (w *wazeroGuest) ReadAllMemory(ctx context.Context) ([]byte, error) {
	size := w.mod.Memory().Size()
	data, ok := w.mod.Memory().Read(0, size)
	if !ok {
		return nil, fmt.Errorf("failed to read %d bytes of linear memory", size)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (w *wazeroGuest) WriteAllMemory(ctx context.Context, data []byte) error {
	if !w.mod.Memory().Write(0, data) {
		return fmt.Errorf("failed to write %d bytes of linear memory", len(data))
	}
	return nil
}

func (w *wazeroGuest) Close(ctx context.Context) error {
	return w.mod.Close(ctx)
}
