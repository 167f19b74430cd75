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
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
)

// fakeStateHeaderSize reserves the first bytes of fakeGuest's linear
// memory for the sim's own state (in1, in2, out, currentTime, one
// float64 each) rather than keeping it in Go struct fields. That way
// ReadAllMemory/WriteAllMemory — what save_state/load_state actually
// move — carry the simulation state for real, the same way a compiled
// guest's globals live in its own linear memory.
const fakeStateHeaderSize = 32

const (
	fakeOffIn1 = 0
	fakeOffIn2 = 8
	fakeOffOut = 16
	fakeOffT   = 24
)

// fakeGuest is an in-process guestModule standing in for a real wazero
// module: a bump-allocated byte slice as linear memory and a tiny adder
// model (two Real inputs, one Real output) driving the Call* methods.
// It lets the dispatcher's protocol logic (instance.go) be exercised
// without a compiled wasm binary.
type fakeGuest struct {
	mem       []byte
	allocated []uint32
	freed     map[uint32]bool

	// extraVars pads fakeDescription with filler Local variables, used to
	// force an encoded model description past baseReadBufferSize so the
	// dispatcher's size-negotiation doubling loop actually runs.
	extraVars int
}

func newFakeGuest() *fakeGuest {
	return &fakeGuest{mem: make([]byte, fakeStateHeaderSize), freed: make(map[uint32]bool)}
}

func (g *fakeGuest) readF64(off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(g.mem[off : off+8]))
}

func (g *fakeGuest) writeF64(off int, v float64) {
	binary.LittleEndian.PutUint64(g.mem[off:off+8], math.Float64bits(v))
}

func (g *fakeGuest) Alloc(ctx context.Context, size uint32) (uint32, error) {
	ptr := uint32(len(g.mem))
	g.mem = append(g.mem, make([]byte, size)...)
	g.allocated = append(g.allocated, ptr)
	return ptr, nil
}

func (g *fakeGuest) Dealloc(ctx context.Context, ptr uint32) error {
	g.freed[ptr] = true
	return nil
}

func (g *fakeGuest) ReadMemory(ctx context.Context, ptr, size uint32) ([]byte, error) {
	out := make([]byte, size)
	copy(out, g.mem[ptr:ptr+size])
	return out, nil
}

func (g *fakeGuest) WriteMemory(ctx context.Context, ptr uint32, data []byte) error {
	copy(g.mem[ptr:], data)
	return nil
}

func (g *fakeGuest) fakeDescription() *dtasm.ModelDescription {
	md := &dtasm.ModelDescription{
		Model: dtasm.ModelInfo{ID: "fakeadd", Name: "Fake Adder"},
		Variables: []dtasm.ModelVariable{
			{ID: 0, Name: "in1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: 1, Name: "in2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: 2, Name: "out", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityOutput},
		},
	}
	for i := 0; i < g.extraVars; i++ {
		md.Variables = append(md.Variables, dtasm.ModelVariable{
			ID:          int32(100 + i),
			Name:        fmt.Sprintf("filler_%03d_padding_to_force_a_large_model_description", i),
			ValueType:   dtasm.VariableTypeReal,
			Causality:   dtasm.CausalityLocal,
			Description: "padding variable, present only to push the encoded description past one read buffer",
		})
	}
	return md
}

func (g *fakeGuest) CallGetModelDescription(ctx context.Context, out, max uint32) (uint32, error) {
	b := dtasm.NewBuilder()
	data := b.EncodeModelDescription(g.fakeDescription())
	if uint32(len(data)) > max {
		return uint32(len(data)), nil
	}
	copy(g.mem[out:], data)
	return uint32(len(data)), nil
}

func (g *fakeGuest) CallInit(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	req, err := dtasm.DecodeInitReq(g.mem[in : in+inLen])
	if err != nil {
		return 0, err
	}
	status := dtasm.StatusOK
	if req.ModelID != "fakeadd" {
		status = dtasm.StatusError
	}
	if v, ok := req.InitValues.Real[0]; ok {
		g.writeF64(fakeOffIn1, v)
	}
	if v, ok := req.InitValues.Real[1]; ok {
		g.writeF64(fakeOffIn2, v)
	}
	g.writeF64(fakeOffT, req.StartTime)
	b := dtasm.NewBuilder()
	data := b.EncodeStatusRes(status)
	copy(g.mem[out:], data)
	return uint32(len(data)), nil
}

func (g *fakeGuest) CallGetValues(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	ids, err := dtasm.DecodeGetValuesReq(g.mem[in : in+inLen])
	if err != nil {
		return 0, err
	}
	vals := dtasm.NewVarValues()
	for _, id := range ids {
		switch id {
		case 0:
			vals.Real[0] = g.readF64(fakeOffIn1)
		case 1:
			vals.Real[1] = g.readF64(fakeOffIn2)
		case 2:
			vals.Real[2] = g.readF64(fakeOffOut)
		}
	}
	res := dtasm.GetValuesResponse{Status: dtasm.StatusOK, CurrentTime: g.readF64(fakeOffT), Values: vals}
	b := dtasm.NewBuilder()
	data := b.EncodeGetValuesRes(res)
	if uint32(len(data)) > max {
		return uint32(len(data)), nil
	}
	copy(g.mem[out:], data)
	return uint32(len(data)), nil
}

func (g *fakeGuest) CallSetValues(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	vals, err := dtasm.DecodeSetValuesReq(g.mem[in : in+inLen])
	if err != nil {
		return 0, err
	}
	if v, ok := vals.Real[0]; ok {
		g.writeF64(fakeOffIn1, v)
	}
	if v, ok := vals.Real[1]; ok {
		g.writeF64(fakeOffIn2, v)
	}
	b := dtasm.NewBuilder()
	data := b.EncodeStatusRes(dtasm.StatusOK)
	copy(g.mem[out:], data)
	return uint32(len(data)), nil
}

func (g *fakeGuest) CallDoStep(ctx context.Context, in, inLen, out, max uint32) (uint32, error) {
	currentTime, timestep, err := dtasm.DecodeDoStepReq(g.mem[in : in+inLen])
	if err != nil {
		return 0, err
	}
	g.writeF64(fakeOffOut, g.readF64(fakeOffIn1)+g.readF64(fakeOffIn2))
	g.writeF64(fakeOffT, currentTime+timestep)
	res := dtasm.DoStepResponse{Status: dtasm.StatusOK, UpdatedTime: g.readF64(fakeOffT)}
	b := dtasm.NewBuilder()
	data := b.EncodeDoStepRes(res)
	copy(g.mem[out:], data)
	return uint32(len(data)), nil
}

func (g *fakeGuest) HasInitializeHook() bool                          { return false }
func (g *fakeGuest) CallInitializeHook(ctx context.Context) error     { return nil }
func (g *fakeGuest) MemoryPageCount(ctx context.Context) uint32       { return 1 }
func (g *fakeGuest) GrowMemory(ctx context.Context, delta uint32) (uint32, bool) {
	return 1, true
}
func (g *fakeGuest) ReadAllMemory(ctx context.Context) ([]byte, error) { return g.mem, nil }
func (g *fakeGuest) WriteAllMemory(ctx context.Context, data []byte) error {
	g.mem = append(g.mem[:0], data...)
	return nil
}
func (g *fakeGuest) Close(ctx context.Context) error { return nil }

func newTestInstance() (*Instance, *fakeGuest) {
	g := newFakeGuest()
	inst := newInstance(g, log.Root())
	return inst, g
}

func TestInstanceHappyPath(t *testing.T) {
	ctx := context.Background()
	inst, _ := newTestInstance()

	md, err := inst.GetModelDescription(ctx)
	require.NoError(t, err)
	require.Equal(t, "fakeadd", md.Model.ID)
	require.Len(t, md.Variables, 3)

	initVals := dtasm.NewVarValues()
	initVals.Real[0] = 2
	initVals.Real[1] = 3
	status, err := inst.Initialize(ctx, initVals, 0, nil, nil, dtasm.LogLevelInfo, false)
	require.NoError(t, err)
	require.Equal(t, dtasm.StatusOK, status)

	stepRes, err := inst.DoStep(ctx, 0, 0.1)
	require.NoError(t, err)
	require.Equal(t, dtasm.StatusOK, stepRes.Status)
	require.InDelta(t, 0.1, stepRes.UpdatedTime, 1e-9)

	getRes, err := inst.GetValues(ctx, []int32{2})
	require.NoError(t, err)
	require.InDelta(t, 5, getRes.Values.Real[2], 1e-9)

	setVals := dtasm.NewVarValues()
	setVals.Real[0] = 10
	status, err = inst.SetValues(ctx, setVals)
	require.NoError(t, err)
	require.Equal(t, dtasm.StatusOK, status)

	stepRes, err = inst.DoStep(ctx, 0.1, 0.1)
	require.NoError(t, err)
	getRes, err = inst.GetValues(ctx, []int32{2})
	require.NoError(t, err)
	require.InDelta(t, 13, getRes.Values.Real[2], 1e-9)
}

// TestInstanceGetModelDescriptionGrowsBuffer exercises P4 on the
// host/dispatcher side: a description that doesn't fit in the base
// sizeNegotiatedRead buffer (baseReadBufferSize, sizeread.go) forces at
// least one double-and-retry round before GetModelDescription succeeds.
func TestInstanceGetModelDescriptionGrowsBuffer(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	g.extraVars = 100
	inst := newInstance(g, log.Root())

	want := g.fakeDescription()
	encoded := dtasm.NewBuilder().EncodeModelDescription(want)
	require.Greater(t, len(encoded), baseReadBufferSize, "test fixture must exceed the base buffer to exercise doubling")

	md, err := inst.GetModelDescription(ctx)
	require.NoError(t, err)
	require.Len(t, md.Variables, len(want.Variables))
	require.Equal(t, want.Variables[len(want.Variables)-1].Name, md.Variables[len(md.Variables)-1].Name)

	// Every allocation the negotiation made along the way, including the
	// undersized first attempt, must have been freed.
	require.NotEmpty(t, g.allocated)
	for _, ptr := range g.allocated {
		require.True(t, g.freed[ptr], "pointer %d never freed", ptr)
	}
}

// TestInstanceSaveLoadStateSymmetry exercises S6: running S1 to
// completion, saving state, then restoring that state into a freshly
// instantiated instance reproduces the same get_values result (spec
// §8, scenario S6; the add sequence itself is S1).
func TestInstanceSaveLoadStateSymmetry(t *testing.T) {
	ctx := context.Background()

	g1 := newFakeGuest()
	inst1 := newInstance(g1, log.Root())
	_, err := inst1.GetModelDescription(ctx)
	require.NoError(t, err)

	initVals := dtasm.NewVarValues()
	initVals.Real[0] = -7.34
	initVals.Real[1] = 10.73
	status, err := inst1.Initialize(ctx, initVals, 0, nil, nil, dtasm.LogLevelInfo, false)
	require.NoError(t, err)
	require.Equal(t, dtasm.StatusOK, status)

	stepRes, err := inst1.DoStep(ctx, 0, 0.02)
	require.NoError(t, err)
	require.Equal(t, dtasm.StatusOK, stepRes.Status)
	require.InDelta(t, 0.02, stepRes.UpdatedTime, 1e-9)

	path := t.TempDir() + "/snapshot.dts"
	require.NoError(t, inst1.SaveState(ctx, path))

	// A fresh instance, over a fresh guest, with no memory of inst1's
	// in1/in2/out at all.
	g2 := newFakeGuest()
	inst2 := newInstance(g2, log.Root())
	_, err = inst2.GetModelDescription(ctx)
	require.NoError(t, err)
	_, err = inst2.Initialize(ctx, dtasm.NewVarValues(), 0, nil, nil, dtasm.LogLevelInfo, false)
	require.NoError(t, err)

	require.NoError(t, inst2.LoadState(ctx, path))

	getRes, err := inst2.GetValues(ctx, []int32{2})
	require.NoError(t, err)
	require.InDelta(t, 3.39, getRes.Values.Real[2], 1e-9)
}

// TestInstanceCallingOrder exercises Q1: every call that requires a
// prior successful init reports InvalidCallingOrder otherwise.
func TestInstanceCallingOrder(t *testing.T) {
	ctx := context.Background()
	inst, _ := newTestInstance()

	_, err := inst.GetValues(ctx, []int32{2})
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.InvalidCallingOrder("")))

	_, err = inst.SetValues(ctx, dtasm.NewVarValues())
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.InvalidCallingOrder("")))

	_, err = inst.DoStep(ctx, 0, 0.1)
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.InvalidCallingOrder("")))

	_, err = inst.Initialize(ctx, dtasm.NewVarValues(), 0, nil, nil, dtasm.LogLevelInfo, false)
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.InvalidCallingOrder("")))
}

// TestInstanceUnknownVariable exercises I4/host-side registry checks
// that reject a request before ever reaching the guest.
func TestInstanceUnknownVariable(t *testing.T) {
	ctx := context.Background()
	inst, _ := newTestInstance()

	_, err := inst.GetModelDescription(ctx)
	require.NoError(t, err)
	_, err = inst.Initialize(ctx, dtasm.NewVarValues(), 0, nil, nil, dtasm.LogLevelInfo, false)
	require.NoError(t, err)

	_, err = inst.GetValues(ctx, []int32{99})
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.UnknownVariableID(0)))

	badSet := dtasm.NewVarValues()
	badSet.Real[99] = 1
	_, err = inst.SetValues(ctx, badSet)
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.UnknownVariableID(0)))

	// Output-causality variables cannot be set (I3).
	outputSet := dtasm.NewVarValues()
	outputSet.Real[2] = 1
	_, err = inst.SetValues(ctx, outputSet)
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.VariableCausalityInvalidForSet(dtasm.CausalityOutput, 0)))

	// Input-causality variables cannot be read via get_values (I4).
	_, err = inst.GetValues(ctx, []int32{0})
	require.Error(t, err)
	require.True(t, errors.Is(err, dtasm.VariableCausalityMismatch(dtasm.CausalityInput, 0)))
}

// TestInstanceAllocationBalance confirms every scoped allocation made
// across a full call sequence is eventually freed (P5).
func TestInstanceAllocationBalance(t *testing.T) {
	ctx := context.Background()
	inst, g := newTestInstance()

	_, err := inst.GetModelDescription(ctx)
	require.NoError(t, err)
	_, err = inst.Initialize(ctx, dtasm.NewVarValues(), 0, nil, nil, dtasm.LogLevelInfo, false)
	require.NoError(t, err)
	_, err = inst.DoStep(ctx, 0, 0.1)
	require.NoError(t, err)
	_, err = inst.GetValues(ctx, []int32{2})
	require.NoError(t, err)

	// Every pointer the fake allocator ever handed out must have seen a
	// matching Dealloc call by the time these calls return (P5).
	require.NotEmpty(t, g.allocated)
	for _, ptr := range g.allocated {
		require.True(t, g.freed[ptr], "pointer %d never freed", ptr)
	}
}

// TestInstanceCachedDescriptionClone ensures a caller mutating a
// returned ModelDescription cannot corrupt the dispatcher's own copy.
func TestInstanceCachedDescriptionClone(t *testing.T) {
	ctx := context.Background()
	inst, _ := newTestInstance()

	md1, err := inst.GetModelDescription(ctx)
	require.NoError(t, err)
	md1.Model.Name = "corrupted"
	md1.Variables[0].Name = "corrupted"

	md2, err := inst.GetModelDescription(ctx)
	require.NoError(t, err)
	require.Equal(t, "Fake Adder", md2.Model.Name)
	require.Equal(t, "in1", md2.Variables[0].Name)
}
