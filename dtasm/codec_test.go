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

package dtasm

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func sampleDescription() *ModelDescription {
	return &ModelDescription{
		Model: ModelInfo{
			ID:                 "adder",
			Name:                "Adder",
			Description:         "adds two values per type",
			GenerationTool:      "dtasm-go",
			GenerationDateTime:  "2024-01-01T00:00:00Z",
			NameDelimiter:       ".",
			Capabilities: Capabilities{
				CanHandleVariableStepSize: true,
				CanHandleResetStep:        false,
				CanInterpolateInputs:      false,
			},
		},
		Experiment: &ExperimentInfo{
			TimeStepMin:      0.001,
			TimeStepMax:      1,
			TimeStepDefault:  0.02,
			StartTimeDefault: 0,
			EndTimeDefault:   10,
			TimeUnit:         "s",
		},
		Variables: []ModelVariable{
			{ID: 0, Name: "real_in1", ValueType: VariableTypeReal, Causality: CausalityInput},
			{ID: 1, Name: "real_in2", ValueType: VariableTypeReal, Causality: CausalityInput},
			{ID: 2, Name: "real_out", ValueType: VariableTypeReal, Causality: CausalityOutput,
				Default: &VariableValue{Real: 0}},
			{ID: 3, Name: "string_out", ValueType: VariableTypeString, Causality: CausalityOutput},
		},
	}
}

func TestModelDescriptionRoundTrip(t *testing.T) {
	b := NewBuilder()
	want := sampleDescription()
	data := b.EncodeModelDescription(want)

	got, err := DecodeModelDescription(data)
	require.NoError(t, err)
	require.Equal(t, want.Model, got.Model)
	require.Equal(t, want.Experiment, got.Experiment)
	require.Equal(t, want.Variables, got.Variables)
}

func TestBuilderResetKeepsCapacity(t *testing.T) {
	b := NewBuilder()
	b.EncodeModelDescription(sampleDescription())
	cap1 := cap(b.buf)
	b.Reset()
	if len(b.Bytes()) != 0 {
		t.Fatalf("expected empty buffer after Reset, got %d bytes", len(b.Bytes()))
	}
	if cap(b.buf) != cap1 {
		t.Fatalf("Reset should not shrink capacity: had %d, now %d", cap1, cap(b.buf))
	}
}

func TestVarValuesRoundTripInitReq(t *testing.T) {
	b := NewBuilder()
	vv := NewVarValues()
	vv.Real[0] = -7.34
	vv.Real[1] = 10.73
	vv.Int[4] = -23456
	vv.Bool[6] = true
	vv.String[9] = "hello world"

	req := InitRequest{
		ModelID:          "adder",
		StartTime:        0,
		EndTime:          10,
		EndTimeSet:       true,
		Tolerance:        0,
		ToleranceSet:     false,
		LogLevelLimit:    LogLevelInfo,
		CheckConsistency: true,
		InitValues:       vv,
	}
	data := b.EncodeInitReq(req)
	got, err := DecodeInitReq(data)
	require.NoError(t, err)
	require.Equal(t, req.ModelID, got.ModelID)
	require.Equal(t, req.EndTimeSet, got.EndTimeSet)
	require.Equal(t, req.ToleranceSet, got.ToleranceSet)
	require.Equal(t, vv, got.InitValues)
}

func TestGetValuesReqRoundTrip(t *testing.T) {
	b := NewBuilder()
	ids := []int32{5, 2, 9, -1}
	data := b.EncodeGetValuesReq(ids)
	got, err := DecodeGetValuesReq(data)
	require.NoError(t, err)
	require.Equal(t, ids, got)
}

func TestDoStepRoundTrip(t *testing.T) {
	b := NewBuilder()
	data := b.EncodeDoStepReq(1.5, 0.02)
	ct, dt, err := DecodeDoStepReq(data)
	require.NoError(t, err)
	require.Equal(t, 1.5, ct)
	require.Equal(t, 0.02, dt)

	data = b.EncodeDoStepRes(DoStepResponse{Status: StatusOK, UpdatedTime: 1.52})
	res, err := DecodeDoStepRes(data)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, 1.52, res.UpdatedTime)
}

func TestDecodeTruncatedMessageIsInternalError(t *testing.T) {
	b := NewBuilder()
	data := b.EncodeDoStepRes(DoStepResponse{Status: StatusOK, UpdatedTime: 42})
	_, err := DecodeDoStepRes(data[:len(data)-4])
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ErrDtasmInternalError, derr.Kind)
}

// TestDecodeGetValuesResRejectsAbsentString exercises the nullable
// string-value path from spec.md §4.3's extraction/validation helper: a
// StringVal entry whose presence flag is false (the wire analogue of a
// flatbuffers string field with no value) is rejected with
// InvalidVariableValue, not silently treated as an empty string. Real
// guest modules always encode presence true via EncodeGetValuesRes; this
// constructs the wire bytes by hand since that is the only way a
// StringVal entry with an id but no value arises.
func TestDecodeGetValuesResRejectsAbsentString(t *testing.T) {
	b := NewBuilder()
	b.writeByte(byte(StatusOK))
	b.writeF64(1.0)
	b.writeU32(0) // real
	b.writeU32(0) // int
	b.writeU32(0) // bool
	b.writeU32(1) // string
	b.writeI32(3)
	b.writeBool(false) // absent

	_, err := DecodeGetValuesRes(b.Bytes())
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ErrInvalidVariableValue, derr.Kind)
}

// TestGetValuesResponseFuzzRoundTrip exercises P1/P2-adjacent randomized
// VarValues through the GetValuesRes codec path, grounded on the teacher
// pack's use of google/gofuzz for generative fixtures.
func TestGetValuesResponseFuzzRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 6)
	b := NewBuilder()
	for i := 0; i < 20; i++ {
		var want GetValuesResponse
		f.Fuzz(&want.CurrentTime)
		want.Status = StatusOK
		want.Values = NewVarValues()
		var reals map[int32]float64
		f.Fuzz(&reals)
		want.Values.Real = reals

		data := b.EncodeGetValuesRes(want)
		got, err := DecodeGetValuesRes(data)
		require.NoError(t, err)
		require.Equal(t, want.CurrentTime, got.CurrentTime)
		require.Equal(t, want.Values.Real, got.Values.Real)
	}
}
