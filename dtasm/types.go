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

// Package dtasm defines the wire-level data model, binary message codec
// and variable registry shared by the host runtime and the guest scaffold.
package dtasm

// VariableType is the declared scalar kind of a ModelVariable.
type VariableType byte

const (
	VariableTypeReal VariableType = iota
	VariableTypeInt
	VariableTypeBool
	VariableTypeString
)

func (t VariableType) String() string {
	switch t {
	case VariableTypeReal:
		return "Real"
	case VariableTypeInt:
		return "Int"
	case VariableTypeBool:
		return "Bool"
	case VariableTypeString:
		return "String"
	default:
		return "Unknown"
	}
}

// CausalityType describes who writes and who reads a ModelVariable.
type CausalityType byte

const (
	CausalityLocal CausalityType = iota
	CausalityParameter
	CausalityInput
	CausalityOutput
)

func (c CausalityType) String() string {
	switch c {
	case CausalityLocal:
		return "Local"
	case CausalityParameter:
		return "Parameter"
	case CausalityInput:
		return "Input"
	case CausalityOutput:
		return "Output"
	default:
		return "Unknown"
	}
}

// LogLevel bounds the verbosity a guest module is permitted to log at,
// carried one-way from host to guest in InitReq.
type LogLevel byte

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// Status is the outcome of an init/getValues/setValues/doStep call.
// Fatal exists for the C ABI boundary only; neither the core dispatcher
// nor capi produces it: both report any transport failure as Error.
type Status byte

const (
	StatusOK Status = iota
	StatusWarning
	StatusDiscard
	StatusError
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "Warning"
	case StatusDiscard:
		return "Discard"
	case StatusError:
		return "Error"
	case StatusFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Capabilities are the three feature flags a module's ModelInfo declares.
type Capabilities struct {
	CanHandleVariableStepSize bool
	CanHandleResetStep        bool
	CanInterpolateInputs      bool
}

// ModelInfo is the fixed identity and naming metadata of a module.
type ModelInfo struct {
	ID                 string
	Name                string
	Description         string
	GenerationTool      string
	GenerationDateTime  string
	NameDelimiter       string
	Capabilities        Capabilities
}

// ExperimentInfo is the optional recommended experiment envelope a module
// may declare alongside its ModelInfo.
type ExperimentInfo struct {
	TimeStepMin      float64
	TimeStepMax      float64
	TimeStepDefault  float64
	StartTimeDefault float64
	EndTimeDefault   float64
	TimeUnit         string
}

// VariableValue holds one slot per VariableType; only the slot matching
// the declaring variable's VariableType carries meaning.
type VariableValue struct {
	Real   float64
	Int    int32
	Bool   bool
	String string
}

// ModelVariable describes one exposed simulation variable.
type ModelVariable struct {
	ID              int32
	Name            string
	ValueType       VariableType
	Description     string
	Unit            string
	Causality       CausalityType
	DerivativeOfID  int32
	Default         *VariableValue
}

// ModelDescription is the full self-description a module emits from
// getModelDescription. It is decoded once per instance and cached
// thereafter (invariant I5).
type ModelDescription struct {
	Model      ModelInfo
	Experiment *ExperimentInfo
	Variables  []ModelVariable
}

// Clone returns a deep copy, used so a cached ModelDescription can be
// handed out repeatedly without aliasing the dispatcher's cached copy.
func (m *ModelDescription) Clone() *ModelDescription {
	if m == nil {
		return nil
	}
	out := &ModelDescription{Model: m.Model}
	if m.Experiment != nil {
		exp := *m.Experiment
		out.Experiment = &exp
	}
	if m.Variables != nil {
		out.Variables = make([]ModelVariable, len(m.Variables))
		for i, v := range m.Variables {
			vv := v
			if v.Default != nil {
				d := *v.Default
				vv.Default = &d
			}
			out.Variables[i] = vv
		}
	}
	return out
}

// VarValues is the dynamic input/output bundle: one id->value mapping per
// VariableType. Insertion order is irrelevant; keys are unique per mapping.
type VarValues struct {
	Real   map[int32]float64
	Int    map[int32]int32
	Bool   map[int32]bool
	String map[int32]string
}

// NewVarValues returns an empty, ready-to-use VarValues.
func NewVarValues() VarValues {
	return VarValues{
		Real:   make(map[int32]float64),
		Int:    make(map[int32]int32),
		Bool:   make(map[int32]bool),
		String: make(map[int32]string),
	}
}

// IDs returns every variable id present in any of the four maps.
func (v VarValues) IDs() []int32 {
	ids := make([]int32, 0, len(v.Real)+len(v.Int)+len(v.Bool)+len(v.String))
	for id := range v.Real {
		ids = append(ids, id)
	}
	for id := range v.Int {
		ids = append(ids, id)
	}
	for id := range v.Bool {
		ids = append(ids, id)
	}
	for id := range v.String {
		ids = append(ids, id)
	}
	return ids
}

// GetValuesResponse is the decoded result of a getValues call.
type GetValuesResponse struct {
	Status      Status
	CurrentTime float64
	Values      VarValues
}

// DoStepResponse is the decoded result of a doStep call.
type DoStepResponse struct {
	Status      Status
	UpdatedTime float64
}

// InitRequest carries every field needed to encode an InitReq message.
type InitRequest struct {
	ModelID          string
	StartTime        float64
	EndTime          float64
	EndTimeSet       bool
	Tolerance        float64
	ToleranceSet     bool
	LogLevelLimit    LogLevel
	CheckConsistency bool
	InitValues       VarValues
}
