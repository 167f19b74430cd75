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

// Package runtime is the host-side instance lifecycle and call
// dispatcher (spec §4.3) plus the engine/module/instance loading trio
// (spec §2). It owns the sandbox VM handles, drives the call protocol,
// enforces argument validity against the variable registry, and
// surfaces a clean host API.
package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
)

// descriptionCacheSize bounds the engine-level LRU of decoded model
// descriptions keyed by module bytecode digest (SPEC_FULL §6:
// hashicorp/golang-lru). This is distinct from, and in addition to, the
// per-instance cache enforced by invariant I5.
const descriptionCacheSize = 32

// Engine holds sandbox VM configuration and a preconfigured import
// linker; it may outlive many Modules.
type Engine struct {
	runtime wazero.Runtime
	log     log.Logger

	descriptions *lru.Cache[string, *dtasm.ModelDescription]
}

// NewEngine constructs an Engine with a fresh wazero runtime and WASI
// preview1 host imports linked in (the module's sandbox is the WASI
// reactor model, spec §1).
func NewEngine(ctx context.Context, logger log.Logger) (*Engine, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, dtasm.Transport(err)
	}
	cache, err := lru.New[string, *dtasm.ModelDescription](descriptionCacheSize)
	if err != nil {
		rt.Close(ctx)
		return nil, dtasm.DtasmInternalError(err.Error())
	}
	return &Engine{runtime: rt, log: logger, descriptions: cache}, nil
}

// Close tears down the engine's wazero runtime. All Modules and
// Instances derived from it must be closed first.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func digestBytecode(wasmBytes []byte) string {
	sum := sha256.Sum256(wasmBytes)
	return hex.EncodeToString(sum[:])
}

// cachedDescription returns a previously decoded ModelDescription for
// this exact module bytecode, if any instance of it has already been
// described.
func (e *Engine) cachedDescription(wasmBytes []byte) (*dtasm.ModelDescription, bool) {
	return e.descriptions.Get(digestBytecode(wasmBytes))
}

func (e *Engine) rememberDescription(wasmBytes []byte, md *dtasm.ModelDescription) {
	e.descriptions.Add(digestBytecode(wasmBytes), md)
}
