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

// Command dpend is a sample guest module built for GOOS=wasip1
// GOARCH=wasm. It integrates a double pendulum with fixed-step
// fourth-order Runge-Kutta, the numerical core carried over from the
// original Rust module of the same name.
package main

import (
	"math"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/guest"
)

const (
	varTh1 = iota
	varW1
	varTh2
	varW2
	varA1
	varA2
	varM1
	varM2
	varL1
	varL2
)

const gravity = 9.81

// state is the four integration variables: two angles, two angular
// velocities.
type state struct {
	th1, w1, th2, w2 float64
}

// params are the pendulum's physical constants, settable at init time
// (causality Parameter) so a host can sweep mass and arm length without
// recompiling the module.
type params struct {
	m1, m2, l1, l2 float64
}

// torques are the two external inputs accepted at every step.
type torques struct {
	a1, a2 float64
}

type dpend struct {
	p  params
	st state
	in torques

	currentTime float64
}

func newDpend() *dpend {
	return &dpend{p: params{m1: 1, m2: 1, l1: 1, l2: 1}}
}

func (d *dpend) GetModelDescription() *dtasm.ModelDescription {
	deg := "deg"
	rate := "deg/s"
	m := "m"
	kg := "kg"
	return &dtasm.ModelDescription{
		Model: dtasm.ModelInfo{
			ID:   "dpend",
			Name: "Double Pendulum",
		},
		Experiment: &dtasm.ExperimentInfo{
			TimeStepDefault: 0.01,
		},
		Variables: []dtasm.ModelVariable{
			{ID: varTh1, Name: "th1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityOutput, Unit: deg},
			{ID: varW1, Name: "w1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityOutput, Unit: rate},
			{ID: varTh2, Name: "th2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityOutput, Unit: deg},
			{ID: varW2, Name: "w2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityOutput, Unit: rate},
			{ID: varA1, Name: "a1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: varA2, Name: "a2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityInput},
			{ID: varM1, Name: "m1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityParameter, Unit: kg},
			{ID: varM2, Name: "m2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityParameter, Unit: kg},
			{ID: varL1, Name: "l1", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityParameter, Unit: m},
			{ID: varL2, Name: "l2", ValueType: dtasm.VariableTypeReal, Causality: dtasm.CausalityParameter, Unit: m},
		},
	}
}

func (d *dpend) Initialize(req dtasm.InitRequest) dtasm.Status {
	d.currentTime = req.StartTime
	d.applyInputs(req.InitValues)
	return dtasm.StatusOK
}

func (d *dpend) applyInputs(v dtasm.VarValues) {
	if x, ok := v.Real[varTh1]; ok {
		d.st.th1 = x * math.Pi / 180
	}
	if x, ok := v.Real[varW1]; ok {
		d.st.w1 = x * math.Pi / 180
	}
	if x, ok := v.Real[varTh2]; ok {
		d.st.th2 = x * math.Pi / 180
	}
	if x, ok := v.Real[varW2]; ok {
		d.st.w2 = x * math.Pi / 180
	}
	if x, ok := v.Real[varA1]; ok {
		d.in.a1 = x
	}
	if x, ok := v.Real[varA2]; ok {
		d.in.a2 = x
	}
	if x, ok := v.Real[varM1]; ok {
		d.p.m1 = x
	}
	if x, ok := v.Real[varM2]; ok {
		d.p.m2 = x
	}
	if x, ok := v.Real[varL1]; ok {
		d.p.l1 = x
	}
	if x, ok := v.Real[varL2]; ok {
		d.p.l2 = x
	}
}

func (d *dpend) GetValues(ids []int32) dtasm.GetValuesResponse {
	res := dtasm.GetValuesResponse{Status: dtasm.StatusOK, CurrentTime: d.currentTime, Values: dtasm.NewVarValues()}
	for _, id := range ids {
		switch id {
		case varTh1:
			res.Values.Real[id] = d.st.th1 * 180 / math.Pi
		case varW1:
			res.Values.Real[id] = d.st.w1 * 180 / math.Pi
		case varTh2:
			res.Values.Real[id] = d.st.th2 * 180 / math.Pi
		case varW2:
			res.Values.Real[id] = d.st.w2 * 180 / math.Pi
		case varA1:
			res.Values.Real[id] = d.in.a1
		case varA2:
			res.Values.Real[id] = d.in.a2
		case varM1:
			res.Values.Real[id] = d.p.m1
		case varM2:
			res.Values.Real[id] = d.p.m2
		case varL1:
			res.Values.Real[id] = d.p.l1
		case varL2:
			res.Values.Real[id] = d.p.l2
		}
	}
	return res
}

func (d *dpend) SetValues(vals dtasm.VarValues) dtasm.Status {
	d.applyInputs(vals)
	return dtasm.StatusOK
}

func (d *dpend) DoStep(currentTime, timestep float64) dtasm.DoStepResponse {
	d.st = rungeKutta(d.p, d.st, d.in, timestep)
	d.currentTime = currentTime + timestep
	return dtasm.DoStepResponse{Status: dtasm.StatusOK, UpdatedTime: d.currentTime}
}

// derivs fills dydx, the derivative of each of the four state
// components at the given state and input torques.
func derivs(p params, y state, in torques) (dydx [4]float64) {
	del := y.th2 - y.th1
	cosDel, sinDel := math.Cos(del), math.Sin(del)

	den1 := (p.m1+p.m2)*p.l1 - p.m2*p.l1*cosDel*cosDel
	dydx[0] = y.w1
	dydx[1] = (p.m2*p.l1*y.w1*y.w1*sinDel*cosDel+
		p.m2*gravity*math.Sin(y.th2)*cosDel+
		p.m2*p.l2*y.w2*y.w2*sinDel-
		(p.m1+p.m2)*gravity*math.Sin(y.th1))/den1 + in.a1

	den2 := (p.l2 / p.l1) * den1
	dydx[2] = y.w2
	dydx[3] = (-p.m2*p.l2*y.w2*y.w2*sinDel*cosDel+
		(p.m1+p.m2)*gravity*math.Sin(y.th1)*cosDel-
		(p.m1+p.m2)*p.l1*y.w1*y.w1*sinDel-
		(p.m1+p.m2)*gravity*math.Sin(y.th2))/den2 + in.a2
	return dydx
}

func addScaled(y state, dydx [4]float64, scale float64) state {
	return state{
		th1: y.th1 + scale*dydx[0],
		w1:  y.w1 + scale*dydx[1],
		th2: y.th2 + scale*dydx[2],
		w2:  y.w2 + scale*dydx[3],
	}
}

// rungeKutta advances y by one step of size h using classical
// fourth-order Runge-Kutta, matching the original module's integrator.
func rungeKutta(p params, y state, in torques, h float64) state {
	k1 := derivs(p, y, in)
	yt := addScaled(y, k1, 0.5*h)

	k2 := derivs(p, yt, in)
	yt = addScaled(y, k2, 0.5*h)

	k3 := derivs(p, yt, in)
	yt = addScaled(y, k3, h)

	k4 := derivs(p, yt, in)

	return state{
		th1: y.th1 + h*(k1[0]/6+k2[0]/3+k3[0]/3+k4[0]/6),
		w1:  y.w1 + h*(k1[1]/6+k2[1]/3+k3[1]/3+k4[1]/6),
		th2: y.th2 + h*(k1[2]/6+k2[2]/3+k3[2]/3+k4[2]/6),
		w2:  y.w2 + h*(k1[3]/6+k2[3]/3+k3[3]/3+k4[3]/6),
	}
}

var host = guest.NewHost(newDpend())

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
