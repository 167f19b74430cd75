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

// Command add is a sample guest module built for GOOS=wasip1
// GOARCH=wasm. It exercises all four value types across the add/and/
// concat operations used by the end-to-end scenarios: two reals summed,
// two ints summed, two bools AND-ed, two strings concatenated.
package main

import (
	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/guest"
)

const (
	varRealIn1 = iota
	varRealIn2
	varRealOut
	varIntIn1
	varIntIn2
	varIntOut
	varBoolIn1
	varBoolIn2
	varBoolOut
	varStringIn1
	varStringIn2
	varStringOut
)

type adder struct {
	realIn1, realIn2, realOut   float64
	intIn1, intIn2, intOut      int32
	boolIn1, boolIn2, boolOut   bool
	stringIn1, stringIn2, strOut string

	currentTime float64
}

func (a *adder) GetModelDescription() *dtasm.ModelDescription {
	return &dtasm.ModelDescription{
		Model: dtasm.ModelInfo{
			ID:   "add",
			Name: "Four-Type Adder",
		},
		Experiment: &dtasm.ExperimentInfo{
			TimeStepDefault: 0.01,
		},
		Variables: []dtasm.ModelVariable{
			{ID: varRealIn1, Name: "real_in1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: varRealIn2, Name: "real_in2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: varRealOut, Name: "real_out", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityOutput},
			{ID: varIntIn1, Name: "int_in1", ValueType: dtasm.VariableTypeInt, Causality: dtasm.CausalityInput},
			{ID: varIntIn2, Name: "int_in2", ValueType: dtasm.VariableTypeInt, Causality: dtasm.CausalityInput},
			{ID: varIntOut, Name: "int_out", ValueType: dtasm.VariableTypeInt, Causality: dtasm.CausalityOutput},
			{ID: varBoolIn1, Name: "bool_in1", ValueType: dtasm.VariableTypeBool, Causality: dtasm.CausalityInput},
			{ID: varBoolIn2, Name: "bool_in2", ValueType: dtasm.VariableTypeBool, Causality: dtasm.CausalityInput},
			{ID: varBoolOut, Name: "bool_out", ValueType: dtasm.VariableTypeBool, Causality: dtasm.CausalityOutput},
			{ID: varStringIn1, Name: "string_in1", ValueType: dtasm.VariableTypeString, Causality: dtasm.CausalityInput},
			{ID: varStringIn2, Name: "string_in2", ValueType: dtasm.VariableTypeString, Causality: dtasm.CausalityInput},
			{ID: varStringOut, Name: "string_out", ValueType: dtasm.VariableTypeString, Causality: dtasm.CausalityOutput},
		},
	}
}

func (a *adder) Initialize(req dtasm.InitRequest) dtasm.Status {
	a.currentTime = req.StartTime
	a.applyInputs(req.InitValues)
	a.compute()
	return dtasm.StatusOK
}

func (a *adder) applyInputs(v dtasm.VarValues) {
	if x, ok := v.Real[varRealIn1]; ok {
		a.realIn1 = x
	}
	if x, ok := v.Real[varRealIn2]; ok {
		a.realIn2 = x
	}
	if x, ok := v.Int[varIntIn1]; ok {
		a.intIn1 = x
	}
	if x, ok := v.Int[varIntIn2]; ok {
		a.intIn2 = x
	}
	if x, ok := v.Bool[varBoolIn1]; ok {
		a.boolIn1 = x
	}
	if x, ok := v.Bool[varBoolIn2]; ok {
		a.boolIn2 = x
	}
	if x, ok := v.String[varStringIn1]; ok {
		a.stringIn1 = x
	}
	if x, ok := v.String[varStringIn2]; ok {
		a.stringIn2 = x
	}
}

func (a *adder) compute() {
	a.realOut = a.realIn1 + a.realIn2
	a.intOut = a.intIn1 + a.intIn2
	a.boolOut = a.boolIn1 && a.boolIn2
	a.strOut = a.stringIn1 + a.stringIn2
}

func (a *adder) GetValues(ids []int32) dtasm.GetValuesResponse {
	res := dtasm.GetValuesResponse{Status: dtasm.StatusOK, CurrentTime: a.currentTime, Values: dtasm.NewVarValues()}
	for _, id := range ids {
		switch id {
		case varRealOut:
			res.Values.Real[id] = a.realOut
		case varIntOut:
			res.Values.Int[id] = a.intOut
		case varBoolOut:
			res.Values.Bool[id] = a.boolOut
		case varStringOut:
			res.Values.String[id] = a.strOut
		}
	}
	return res
}

func (a *adder) SetValues(vals dtasm.VarValues) dtasm.Status {
	a.applyInputs(vals)
	return dtasm.StatusOK
}

func (a *adder) DoStep(currentTime, timestep float64) dtasm.DoStepResponse {
	a.compute()
	a.currentTime = currentTime + timestep
	return dtasm.DoStepResponse{Status: dtasm.StatusOK, UpdatedTime: a.currentTime}
}

var host = guest.NewHost(&adder{})

//go:wasmexport getModelDescription
func getModelDescription(outPtr, outMax uint32) uint32 {
	return host.GetModelDescription(outPtr, outMax)
}

//go:wasmexport init
func initialize(inPtr, inLen, outPtr, outMax uint32) uint32 {
	return host.Init(inPtr, inLen, outPtr, outMax)
}

//go:wasmexport getValues
func getValues(inPtr, inLen, outPtr, outMax uint32) uint32 {
	return host.GetValues(inPtr, inLen, outPtr, outMax)
}

//go:wasmexport setValues
func setValues(inPtr, inLen, outPtr, outMax uint32) uint32 {
	return host.SetValues(inPtr, inLen, outPtr, outMax)
}

//go:wasmexport doStep
func doStep(inPtr, inLen, outPtr, outMax uint32) uint32 {
	return host.DoStep(inPtr, inLen, outPtr, outMax)
}

//go:wasmexport alloc
func alloc(size uint32) uint32 {
	return host.Alloc(size)
}

//go:wasmexport dealloc
func dealloc(ptr uint32) {
	host.Dealloc(ptr)
}

func main() {}
