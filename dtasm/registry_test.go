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

import "testing"

// TestRegistryConsistency is property P1: for any model description, the
// registry entry's ValueType matches the source ModelVariable's.
func TestRegistryConsistency(t *testing.T) {
	vars := sampleDescription().Variables
	reg := BuildRegistry(vars)
	for _, v := range vars {
		entry, ok := reg.Lookup(v.ID)
		if !ok {
			t.Fatalf("variable %d missing from registry", v.ID)
		}
		if entry.ValueType != v.ValueType {
			t.Fatalf("id %d: registry type %v != variable type %v", v.ID, entry.ValueType, v.ValueType)
		}
	}
}

// TestTypeGuard is property P6: an int-typed id placed into the real map
// must fail set validation with VariableTypeMismatch(Int, id).
func TestTypeGuard(t *testing.T) {
	reg := BuildRegistry([]ModelVariable{
		{ID: 4, Name: "int_in1", ValueType: VariableTypeInt, Causality: CausalityInput},
	})
	v := NewVarValues()
	v.Real[4] = 1.0
	err := reg.CheckSettable(v)
	derr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *dtasm.Error, got %T (%v)", err, err)
	}
	if derr.Kind != ErrVariableTypeMismatch {
		t.Fatalf("expected VariableTypeMismatch, got %v", derr.Kind)
	}
}

// TestCausalityGuards is property P7.
func TestCausalityGuards(t *testing.T) {
	reg := BuildRegistry([]ModelVariable{
		{ID: 0, Name: "real_in1", ValueType: VariableTypeReal, Causality: CausalityInput},
		{ID: 2, Name: "real_out", ValueType: VariableTypeReal, Causality: CausalityOutput},
	})

	if err := reg.CheckGettable([]int32{0}); err == nil {
		t.Fatal("expected get_values on an Input to fail")
	} else if derr := err.(*Error); derr.Kind != ErrVariableCausalityMismatch {
		t.Fatalf("expected VariableCausalityMismatch, got %v", derr.Kind)
	}

	v := NewVarValues()
	v.Real[2] = 1.0
	if err := reg.CheckSettable(v); err == nil {
		t.Fatal("expected set_values on an Output to fail")
	} else if derr := err.(*Error); derr.Kind != ErrVariableCausalityInvalidForSet {
		t.Fatalf("expected VariableCausalityInvalidForSet, got %v", derr.Kind)
	}
}

func TestUnknownVariableID(t *testing.T) {
	reg := BuildRegistry(nil)
	v := NewVarValues()
	v.Real[999] = 0.0
	err := reg.CheckSettable(v)
	derr, ok := err.(*Error)
	if !ok || derr.Kind != ErrUnknownVariableID {
		t.Fatalf("expected UnknownVariableId, got %v", err)
	}
}
