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

package guest

import (
	"math"
	"testing"

	"github.com/dtasm/dtasm-go/dtasm"
)

// fakeAdder is a minimal Simulator exercising every scaffold entry
// point, standing in for module/add's real implementation.
type fakeAdder struct {
	realIn1, realIn2, realOut float64
	currentTime               float64
}

func (f *fakeAdder) GetModelDescription() *dtasm.ModelDescription {
	return &dtasm.ModelDescription{
		Model: dtasm.ModelInfo{ID: "adder", Name: "Adder"},
		Variables: []dtasm.ModelVariable{
			{ID: 0, Name: "real_in1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: 1, Name: "real_in2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: 2, Name: "real_out", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityOutput},
		},
	}
}

func (f *fakeAdder) Initialize(req dtasm.InitRequest) dtasm.Status {
	f.currentTime = req.StartTime
	return dtasm.StatusOK
}

func (f *fakeAdder) GetValues(ids []int32) dtasm.GetValuesResponse {
	res := dtasm.GetValuesResponse{Status: dtasm.StatusOK, CurrentTime: f.currentTime, Values: dtasm.NewVarValues()}
	for _, id := range ids {
		if id == 2 {
			res.Values.Real[2] = f.realOut
		}
	}
	return res
}

func (f *fakeAdder) SetValues(vals dtasm.VarValues) dtasm.Status {
	if v, ok := vals.Real[0]; ok {
		f.realIn1 = v
	}
	if v, ok := vals.Real[1]; ok {
		f.realIn2 = v
	}
	return dtasm.StatusOK
}

func (f *fakeAdder) DoStep(currentTime, timestep float64) dtasm.DoStepResponse {
	f.realOut = f.realIn1 + f.realIn2
	f.currentTime = currentTime + timestep
	return dtasm.DoStepResponse{Status: dtasm.StatusOK, UpdatedTime: f.currentTime}
}

func TestHostRoundTrip(t *testing.T) {
	sim := &fakeAdder{}
	h := NewHost(sim)

	// getModelDescription: undersized buffer first reports required size.
	small := h.Alloc(1)
	n := h.GetModelDescription(small, 1)
	if n <= 1 {
		t.Fatalf("expected a model description larger than 1 byte, got %d", n)
	}
	h.Dealloc(small)

	out := h.Alloc(n)
	written := h.GetModelDescription(out, n)
	if written != n {
		t.Fatalf("written=%d, want %d", written, n)
	}
	data := append([]byte(nil), readMemory(out, written)...)
	h.Dealloc(out)

	md, err := dtasm.DecodeModelDescription(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if md.Model.ID != "adder" {
		t.Fatalf("model id = %q", md.Model.ID)
	}

	// init
	b := dtasm.NewBuilder()
	initReq := b.EncodeInitReq(dtasm.InitRequest{ModelID: "adder", StartTime: 0, InitValues: dtasm.NewVarValues()})
	inPtr := h.Alloc(uint32(len(initReq)))
	copy(readMemory(inPtr, uint32(len(initReq))), initReq)
	outPtr := h.Alloc(64)
	n = h.Init(inPtr, uint32(len(initReq)), outPtr, 64)
	status, err := dtasm.DecodeStatusRes(readMemory(outPtr, n))
	if err != nil || status != dtasm.StatusOK {
		t.Fatalf("init status=%v err=%v", status, err)
	}
	h.Dealloc(inPtr)
	h.Dealloc(outPtr)

	// set_values
	vv := dtasm.NewVarValues()
	vv.Real[0] = -7.34
	vv.Real[1] = 10.73
	setReq := b.EncodeSetValuesReq(vv)
	inPtr = h.Alloc(uint32(len(setReq)))
	copy(readMemory(inPtr, uint32(len(setReq))), setReq)
	outPtr = h.Alloc(64)
	n = h.SetValues(inPtr, uint32(len(setReq)), outPtr, 64)
	status, _ = dtasm.DecodeStatusRes(readMemory(outPtr, n))
	if status != dtasm.StatusOK {
		t.Fatalf("set_values status=%v", status)
	}
	h.Dealloc(inPtr)
	h.Dealloc(outPtr)

	// do_step
	stepReq := b.EncodeDoStepReq(0, 0.02)
	inPtr = h.Alloc(uint32(len(stepReq)))
	copy(readMemory(inPtr, uint32(len(stepReq))), stepReq)
	outPtr = h.Alloc(2048)
	n = h.DoStep(inPtr, uint32(len(stepReq)), outPtr, 2048)
	stepRes, err := dtasm.DecodeDoStepRes(readMemory(outPtr, n))
	if err != nil || stepRes.UpdatedTime != 0.02 {
		t.Fatalf("do_step res=%+v err=%v", stepRes, err)
	}
	h.Dealloc(inPtr)
	h.Dealloc(outPtr)

	// get_values
	getReq := b.EncodeGetValuesReq([]int32{2})
	inPtr = h.Alloc(uint32(len(getReq)))
	copy(readMemory(inPtr, uint32(len(getReq))), getReq)
	outPtr = h.Alloc(2048)
	n = h.GetValues(inPtr, uint32(len(getReq)), outPtr, 2048)
	getRes, err := dtasm.DecodeGetValuesRes(readMemory(outPtr, n))
	if err != nil {
		t.Fatalf("decode get_values: %v", err)
	}
	if got := getRes.Values.Real[2]; math.Abs(got-3.39) > 1e-9 {
		t.Fatalf("real_out = %v, want 3.39", got)
	}
	h.Dealloc(inPtr)
	h.Dealloc(outPtr)

	if len(h.allocations) != 0 {
		t.Fatalf("expected no live allocations after balanced alloc/dealloc, have %d", len(h.allocations))
	}
}
