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

// Codec implements the tag-length binary schema of spec §4.1: every
// message is a flat little-endian table, strings and vectors are
// length-prefixed and read at known offsets. The codec performs no
// validation of the values it moves; that is the dispatcher's job.
package dtasm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Builder is the reusable growable buffer every encode call writes into.
// It is reset (truncated to zero, capacity kept) after the host copies
// the finished bytes out of it (invariant I6).
type Builder struct {
	buf []byte
}

// NewBuilder returns a Builder with a sensible starting capacity.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 2048)}
}

// Reset truncates the buffer to zero length, keeping backing capacity.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Bytes returns the bytes written so far.
func (b *Builder) Bytes() []byte { return b.buf }

func (b *Builder) writeByte(v byte)   { b.buf = append(b.buf, v) }
func (b *Builder) writeBool(v bool) {
	if v {
		b.writeByte(1)
	} else {
		b.writeByte(0)
	}
}
func (b *Builder) writeI32(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf = append(b.buf, tmp[:]...)
}
func (b *Builder) writeU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}
func (b *Builder) writeF64(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.buf = append(b.buf, tmp[:]...)
}
func (b *Builder) writeString(s string) {
	b.writeU32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *Builder) writeVariableValue(vt VariableType, v VariableValue) {
	switch vt {
	case VariableTypeReal:
		b.writeF64(v.Real)
	case VariableTypeInt:
		b.writeI32(v.Int)
	case VariableTypeBool:
		b.writeBool(v.Bool)
	case VariableTypeString:
		b.writeString(v.String)
	}
}

func (b *Builder) writeOptionalDefault(vt VariableType, d *VariableValue) {
	if d == nil {
		b.writeBool(false)
		return
	}
	b.writeBool(true)
	b.writeVariableValue(vt, *d)
}

func (b *Builder) writeVarValues(v VarValues) {
	b.writeU32(uint32(len(v.Real)))
	for id, val := range v.Real {
		b.writeI32(id)
		b.writeF64(val)
	}
	b.writeU32(uint32(len(v.Int)))
	for id, val := range v.Int {
		b.writeI32(id)
		b.writeI32(val)
	}
	b.writeU32(uint32(len(v.Bool)))
	for id, val := range v.Bool {
		b.writeI32(id)
		b.writeBool(val)
	}
	// String entries carry an explicit presence flag ahead of the value,
	// mirroring the nullable string field the flatbuffers-based wire
	// format used for StringVal.val: a guest module that answers with a
	// present id but an absent value produces a decodable, rejectable
	// message rather than an empty string silently standing in for it.
	b.writeU32(uint32(len(v.String)))
	for id, val := range v.String {
		b.writeI32(id)
		b.writeBool(true)
		b.writeString(val)
	}
}

func (b *Builder) writeModelVariable(v ModelVariable) {
	b.writeI32(v.ID)
	b.writeString(v.Name)
	b.writeByte(byte(v.ValueType))
	b.writeString(v.Description)
	b.writeString(v.Unit)
	b.writeByte(byte(v.Causality))
	b.writeI32(v.DerivativeOfID)
	b.writeOptionalDefault(v.ValueType, v.Default)
}

func (b *Builder) writeModelInfo(m ModelInfo) {
	b.writeString(m.ID)
	b.writeString(m.Name)
	b.writeString(m.Description)
	b.writeString(m.GenerationTool)
	b.writeString(m.GenerationDateTime)
	b.writeString(m.NameDelimiter)
	b.writeBool(m.Capabilities.CanHandleVariableStepSize)
	b.writeBool(m.Capabilities.CanHandleResetStep)
	b.writeBool(m.Capabilities.CanInterpolateInputs)
}

// EncodeModelDescription serializes a ModelDescription. Used by the
// guest scaffold to produce the bytes getModelDescription returns, and
// exercised host-side in tests as the round-trip counterpart to Decode.
func (b *Builder) EncodeModelDescription(m *ModelDescription) []byte {
	b.Reset()
	b.writeModelInfo(m.Model)
	if m.Experiment == nil {
		b.writeBool(false)
	} else {
		b.writeBool(true)
		e := m.Experiment
		b.writeF64(e.TimeStepMin)
		b.writeF64(e.TimeStepMax)
		b.writeF64(e.TimeStepDefault)
		b.writeF64(e.StartTimeDefault)
		b.writeF64(e.EndTimeDefault)
		b.writeString(e.TimeUnit)
	}
	b.writeU32(uint32(len(m.Variables)))
	for _, v := range m.Variables {
		b.writeModelVariable(v)
	}
	return b.Bytes()
}

// EncodeInitReq serializes an InitRequest.
func (b *Builder) EncodeInitReq(r InitRequest) []byte {
	b.Reset()
	b.writeString(r.ModelID)
	b.writeF64(r.StartTime)
	b.writeF64(r.EndTime)
	b.writeBool(r.EndTimeSet)
	b.writeF64(r.Tolerance)
	b.writeBool(r.ToleranceSet)
	b.writeByte(byte(r.LogLevelLimit))
	b.writeBool(r.CheckConsistency)
	b.writeVarValues(r.InitValues)
	return b.Bytes()
}

// EncodeGetValuesReq serializes an ordered id list.
func (b *Builder) EncodeGetValuesReq(ids []int32) []byte {
	b.Reset()
	b.writeU32(uint32(len(ids)))
	for _, id := range ids {
		b.writeI32(id)
	}
	return b.Bytes()
}

// EncodeSetValuesReq serializes a VarValues bundle as a SetValuesReq.
func (b *Builder) EncodeSetValuesReq(v VarValues) []byte {
	b.Reset()
	b.writeVarValues(v)
	return b.Bytes()
}

// EncodeDoStepReq serializes a DoStepReq.
func (b *Builder) EncodeDoStepReq(currentTime, timestep float64) []byte {
	b.Reset()
	b.writeF64(currentTime)
	b.writeF64(timestep)
	return b.Bytes()
}

// EncodeStatusRes serializes a bare status response (init/setValues).
func (b *Builder) EncodeStatusRes(status Status) []byte {
	b.Reset()
	b.writeByte(byte(status))
	return b.Bytes()
}

// EncodeGetValuesRes serializes a GetValuesResponse.
func (b *Builder) EncodeGetValuesRes(r GetValuesResponse) []byte {
	b.Reset()
	b.writeByte(byte(r.Status))
	b.writeF64(r.CurrentTime)
	b.writeVarValues(r.Values)
	return b.Bytes()
}

// EncodeDoStepRes serializes a DoStepResponse.
func (b *Builder) EncodeDoStepRes(r DoStepResponse) []byte {
	b.Reset()
	b.writeByte(byte(r.Status))
	b.writeF64(r.UpdatedTime)
	return b.Bytes()
}

// reader is a cursor over a decode buffer; every read advances off and
// returns a DtasmInternalError if the buffer is exhausted.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return DtasmInternalError(fmt.Sprintf("truncated message: need %d bytes at offset %d, have %d", n, r.off, len(r.buf)))
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) readBool() (bool, error) {
	v, err := r.readByte()
	return v != 0, err
}

func (r *reader) readI32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *reader) readU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) readF64() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *reader) readVariableValue(vt VariableType) (VariableValue, error) {
	var v VariableValue
	var err error
	switch vt {
	case VariableTypeReal:
		v.Real, err = r.readF64()
	case VariableTypeInt:
		v.Int, err = r.readI32()
	case VariableTypeBool:
		v.Bool, err = r.readBool()
	case VariableTypeString:
		v.String, err = r.readString()
	}
	return v, err
}

func (r *reader) readOptionalDefault(vt VariableType) (*VariableValue, error) {
	has, err := r.readBool()
	if err != nil || !has {
		return nil, err
	}
	v, err := r.readVariableValue(vt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *reader) readVarValues() (VarValues, error) {
	vv := NewVarValues()
	n, err := r.readU32()
	if err != nil {
		return vv, err
	}
	for i := uint32(0); i < n; i++ {
		id, err := r.readI32()
		if err != nil {
			return vv, err
		}
		val, err := r.readF64()
		if err != nil {
			return vv, err
		}
		vv.Real[id] = val
	}
	n, err = r.readU32()
	if err != nil {
		return vv, err
	}
	for i := uint32(0); i < n; i++ {
		id, err := r.readI32()
		if err != nil {
			return vv, err
		}
		val, err := r.readI32()
		if err != nil {
			return vv, err
		}
		vv.Int[id] = val
	}
	n, err = r.readU32()
	if err != nil {
		return vv, err
	}
	for i := uint32(0); i < n; i++ {
		id, err := r.readI32()
		if err != nil {
			return vv, err
		}
		val, err := r.readBool()
		if err != nil {
			return vv, err
		}
		vv.Bool[id] = val
	}
	n, err = r.readU32()
	if err != nil {
		return vv, err
	}
	for i := uint32(0); i < n; i++ {
		id, err := r.readI32()
		if err != nil {
			return vv, err
		}
		present, err := r.readBool()
		if err != nil {
			return vv, err
		}
		if !present {
			return vv, InvalidVariableValue("None", id)
		}
		val, err := r.readString()
		if err != nil {
			return vv, err
		}
		vv.String[id] = val
	}
	return vv, nil
}

func (r *reader) readModelVariable() (ModelVariable, error) {
	var v ModelVariable
	var err error
	if v.ID, err = r.readI32(); err != nil {
		return v, err
	}
	if v.Name, err = r.readString(); err != nil {
		return v, err
	}
	vt, err := r.readByte()
	if err != nil {
		return v, err
	}
	v.ValueType = VariableType(vt)
	if v.Description, err = r.readString(); err != nil {
		return v, err
	}
	if v.Unit, err = r.readString(); err != nil {
		return v, err
	}
	c, err := r.readByte()
	if err != nil {
		return v, err
	}
	v.Causality = CausalityType(c)
	if v.DerivativeOfID, err = r.readI32(); err != nil {
		return v, err
	}
	v.Default, err = r.readOptionalDefault(v.ValueType)
	return v, err
}

func (r *reader) readModelInfo() (ModelInfo, error) {
	var m ModelInfo
	var err error
	if m.ID, err = r.readString(); err != nil {
		return m, err
	}
	if m.Name, err = r.readString(); err != nil {
		return m, err
	}
	if m.Description, err = r.readString(); err != nil {
		return m, err
	}
	if m.GenerationTool, err = r.readString(); err != nil {
		return m, err
	}
	if m.GenerationDateTime, err = r.readString(); err != nil {
		return m, err
	}
	if m.NameDelimiter, err = r.readString(); err != nil {
		return m, err
	}
	if m.Capabilities.CanHandleVariableStepSize, err = r.readBool(); err != nil {
		return m, err
	}
	if m.Capabilities.CanHandleResetStep, err = r.readBool(); err != nil {
		return m, err
	}
	if m.Capabilities.CanInterpolateInputs, err = r.readBool(); err != nil {
		return m, err
	}
	return m, nil
}

// DecodeModelDescription parses bytes produced by EncodeModelDescription.
func DecodeModelDescription(data []byte) (*ModelDescription, error) {
	r := &reader{buf: data}
	info, err := r.readModelInfo()
	if err != nil {
		return nil, err
	}
	md := &ModelDescription{Model: info}
	hasExp, err := r.readBool()
	if err != nil {
		return nil, err
	}
	if hasExp {
		var e ExperimentInfo
		if e.TimeStepMin, err = r.readF64(); err != nil {
			return nil, err
		}
		if e.TimeStepMax, err = r.readF64(); err != nil {
			return nil, err
		}
		if e.TimeStepDefault, err = r.readF64(); err != nil {
			return nil, err
		}
		if e.StartTimeDefault, err = r.readF64(); err != nil {
			return nil, err
		}
		if e.EndTimeDefault, err = r.readF64(); err != nil {
			return nil, err
		}
		if e.TimeUnit, err = r.readString(); err != nil {
			return nil, err
		}
		md.Experiment = &e
	}
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	md.Variables = make([]ModelVariable, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.readModelVariable()
		if err != nil {
			return nil, err
		}
		md.Variables = append(md.Variables, v)
	}
	return md, nil
}

// DecodeStatusRes parses a bare status response.
func DecodeStatusRes(data []byte) (Status, error) {
	r := &reader{buf: data}
	b, err := r.readByte()
	if err != nil {
		return StatusError, err
	}
	return Status(b), nil
}

// DecodeGetValuesRes parses a GetValuesResponse.
func DecodeGetValuesRes(data []byte) (GetValuesResponse, error) {
	r := &reader{buf: data}
	var res GetValuesResponse
	b, err := r.readByte()
	if err != nil {
		return res, err
	}
	res.Status = Status(b)
	if res.CurrentTime, err = r.readF64(); err != nil {
		return res, err
	}
	res.Values, err = r.readVarValues()
	return res, err
}

// DecodeDoStepRes parses a DoStepResponse.
func DecodeDoStepRes(data []byte) (DoStepResponse, error) {
	r := &reader{buf: data}
	var res DoStepResponse
	b, err := r.readByte()
	if err != nil {
		return res, err
	}
	res.Status = Status(b)
	res.UpdatedTime, err = r.readF64()
	return res, err
}

// DecodeGetValuesReq parses the ordered id list a GetValuesReq carries;
// used by the guest scaffold to read the host's request.
func DecodeGetValuesReq(data []byte) ([]int32, error) {
	r := &reader{buf: data}
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	ids := make([]int32, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.readI32()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DecodeSetValuesReq parses the VarValues a SetValuesReq carries.
func DecodeSetValuesReq(data []byte) (VarValues, error) {
	r := &reader{buf: data}
	return r.readVarValues()
}

// DecodeDoStepReq parses a DoStepReq.
func DecodeDoStepReq(data []byte) (currentTime, timestep float64, err error) {
	r := &reader{buf: data}
	if currentTime, err = r.readF64(); err != nil {
		return
	}
	timestep, err = r.readF64()
	return
}

// DecodeInitReq parses an InitReq.
func DecodeInitReq(data []byte) (InitRequest, error) {
	r := &reader{buf: data}
	var req InitRequest
	var err error
	if req.ModelID, err = r.readString(); err != nil {
		return req, err
	}
	if req.StartTime, err = r.readF64(); err != nil {
		return req, err
	}
	if req.EndTime, err = r.readF64(); err != nil {
		return req, err
	}
	if req.EndTimeSet, err = r.readBool(); err != nil {
		return req, err
	}
	if req.Tolerance, err = r.readF64(); err != nil {
		return req, err
	}
	if req.ToleranceSet, err = r.readBool(); err != nil {
		return req, err
	}
	ll, err := r.readByte()
	if err != nil {
		return req, err
	}
	req.LogLevelLimit = LogLevel(ll)
	if req.CheckConsistency, err = r.readBool(); err != nil {
		return req, err
	}
	req.InitValues, err = r.readVarValues()
	return req, err
}
