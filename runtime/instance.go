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
	"sync"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
	"github.com/google/uuid"
)

type lifecycleState int

const (
	stateEmpty lifecycleState = iota
	stateDescribed
	stateInitialized
)

// Instance is a fully linked, callable unit bound to one guest module.
// It owns the sandbox VM handle, the cached model description and
// registry, and the reusable codec builder (§4.3). One instance
// processes one call at a time: every exported method holds mu for its
// whole duration, so concurrent calls on one instance are serialised.
type Instance struct {
	ID string

	g       guestModule
	module  *Module
	builder *dtasm.Builder

	mu    sync.Mutex // guards the fields below; see note in doc comment
	state lifecycleState

	description *dtasm.ModelDescription
	registry    dtasm.VariableRegistry

	hookCalled bool

	cache *statecache

	log log.Logger
}

func newInstance(g guestModule, logger log.Logger) *Instance {
	id := uuid.NewString()
	return &Instance{
		ID:      id,
		g:       g,
		builder: dtasm.NewBuilder(),
		cache:   newStateCache(id),
		log:     logger.New("instance", id),
	}
}

// Close releases the instance's sandbox VM store. It must be called
// before the module that produced it, if the module holds shared state.
func (i *Instance) Close(ctx context.Context) error {
	return i.g.Close(ctx)
}

// GetModelDescription implements get_model_description (§4.3). Every
// call, the first included, returns a clone of the cached description so
// callers never observe a mutation of the dispatcher's own copy.
func (i *Instance) GetModelDescription(ctx context.Context) (*dtasm.ModelDescription, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.description != nil {
		return i.description.Clone(), nil
	}

	if i.module != nil && i.module.engine != nil {
		if cached, ok := i.module.engine.cachedDescription(i.module.wasm); ok {
			i.description = cached
			i.registry = dtasm.BuildRegistry(cached.Variables)
			i.state = stateDescribed
			i.log.Debug("served model description from engine cache")
			return cached.Clone(), nil
		}
	}

	sc := newScopedAlloc(i.g)
	defer sc.release(ctx)

	data, err := sizeNegotiatedRead(ctx, i.g, sc, func(out, max uint32) (uint32, error) {
		return i.g.CallGetModelDescription(ctx, out, max)
	})
	if err != nil {
		i.builder.Reset()
		return nil, err
	}

	md, err := dtasm.DecodeModelDescription(data)
	if err != nil {
		i.builder.Reset()
		return nil, err
	}

	i.description = md
	i.registry = dtasm.BuildRegistry(md.Variables)
	i.state = stateDescribed
	i.builder.Reset()
	if i.module != nil && i.module.engine != nil {
		i.module.engine.rememberDescription(i.module.wasm, md)
	}
	i.log.Debug("cached model description", "variables", len(md.Variables))
	return md.Clone(), nil
}

// Initialize implements initialize (§4.3). Requires a cached model
// description (Q1 decision); causality is not constrained here, so any
// variable may be set during init.
func (i *Instance) Initialize(ctx context.Context, initVals dtasm.VarValues, startTime float64, endTime *float64, tolerance *float64, logLevel dtasm.LogLevel, checkConsistency bool) (dtasm.Status, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.description == nil {
		return dtasm.StatusError, dtasm.InvalidCallingOrder("initialize called before getModelDescription")
	}
	if err := i.registry.CheckVarValues(initVals); err != nil {
		return dtasm.StatusError, err
	}

	if !i.hookCalled && i.g.HasInitializeHook() {
		if err := i.g.CallInitializeHook(ctx); err != nil {
			return dtasm.StatusError, dtasm.Transport(err)
		}
		i.hookCalled = true
	}

	req := dtasm.InitRequest{
		ModelID:          i.description.Model.ID,
		StartTime:        startTime,
		LogLevelLimit:    logLevel,
		CheckConsistency: checkConsistency,
		InitValues:       initVals,
	}
	if endTime != nil {
		req.EndTime = *endTime
		req.EndTimeSet = true
	}
	if tolerance != nil {
		req.Tolerance = *tolerance
		req.ToleranceSet = true
	}

	reqBytes := i.builder.EncodeInitReq(req)

	sc := newScopedAlloc(i.g)
	defer sc.release(ctx)

	inPtr, inLen, err := allocAndWriteRequest(ctx, i.g, sc, reqBytes)
	if err != nil {
		i.builder.Reset()
		return dtasm.StatusError, err
	}
	i.builder.Reset()

	const statusResponseSize = 64
	data, err := fixedSizeRead(ctx, i.g, sc, statusResponseSize, "init", func(out, max uint32) (uint32, error) {
		return i.g.CallInit(ctx, inPtr, inLen, out, max)
	})
	if err != nil {
		return dtasm.StatusError, err
	}
	status, err := dtasm.DecodeStatusRes(data)
	if err != nil {
		return dtasm.StatusError, err
	}
	if status == dtasm.StatusOK || status == dtasm.StatusWarning {
		i.state = stateInitialized
	}
	return status, nil
}

// GetValues implements get_values (§4.3).
func (i *Instance) GetValues(ctx context.Context, ids []int32) (dtasm.GetValuesResponse, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	res := dtasm.GetValuesResponse{Status: dtasm.StatusError}
	if i.state < stateInitialized {
		return res, dtasm.InvalidCallingOrder("getValues called before a successful init")
	}
	if err := i.registry.CheckGettable(ids); err != nil {
		return res, err
	}

	reqBytes := i.builder.EncodeGetValuesReq(ids)

	sc := newScopedAlloc(i.g)
	defer sc.release(ctx)

	inPtr, inLen, err := allocAndWriteRequest(ctx, i.g, sc, reqBytes)
	if err != nil {
		i.builder.Reset()
		return res, err
	}
	i.builder.Reset()

	data, err := sizeNegotiatedRead(ctx, i.g, sc, func(out, max uint32) (uint32, error) {
		return i.g.CallGetValues(ctx, inPtr, inLen, out, max)
	})
	if err != nil {
		return res, err
	}

	res, err = dtasm.DecodeGetValuesRes(data)
	if err != nil {
		return dtasm.GetValuesResponse{}, err
	}
	if err := i.registry.CheckResponseValues(res.Values); err != nil {
		return dtasm.GetValuesResponse{}, err
	}
	return res, nil
}

// SetValues implements set_values (§4.3).
func (i *Instance) SetValues(ctx context.Context, vals dtasm.VarValues) (dtasm.Status, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state < stateInitialized {
		return dtasm.StatusError, dtasm.InvalidCallingOrder("setValues called before a successful init")
	}
	if err := i.registry.CheckSettable(vals); err != nil {
		return dtasm.StatusError, err
	}

	reqBytes := i.builder.EncodeSetValuesReq(vals)

	sc := newScopedAlloc(i.g)
	defer sc.release(ctx)

	inPtr, inLen, err := allocAndWriteRequest(ctx, i.g, sc, reqBytes)
	if err != nil {
		i.builder.Reset()
		return dtasm.StatusError, err
	}
	i.builder.Reset()

	const statusResponseSize = 64
	data, err := fixedSizeRead(ctx, i.g, sc, statusResponseSize, "setValues", func(out, max uint32) (uint32, error) {
		return i.g.CallSetValues(ctx, inPtr, inLen, out, max)
	})
	if err != nil {
		return dtasm.StatusError, err
	}
	return dtasm.DecodeStatusRes(data)
}

// DoStep implements do_step (§4.3).
func (i *Instance) DoStep(ctx context.Context, currentTime, timestep float64) (dtasm.DoStepResponse, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	res := dtasm.DoStepResponse{Status: dtasm.StatusError}
	if i.state < stateInitialized {
		return res, dtasm.InvalidCallingOrder("doStep called before a successful init")
	}

	reqBytes := i.builder.EncodeDoStepReq(currentTime, timestep)

	sc := newScopedAlloc(i.g)
	defer sc.release(ctx)

	inPtr, inLen, err := allocAndWriteRequest(ctx, i.g, sc, reqBytes)
	if err != nil {
		i.builder.Reset()
		return res, err
	}
	i.builder.Reset()

	const doStepResponseSize = 2048
	data, err := fixedSizeRead(ctx, i.g, sc, doStepResponseSize, "doStep", func(out, max uint32) (uint32, error) {
		return i.g.CallDoStep(ctx, inPtr, inLen, out, max)
	})
	if err != nil {
		return res, err
	}
	return dtasm.DecodeDoStepRes(data)
}
