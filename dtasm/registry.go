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

// RegistryEntry is what the VariableRegistry remembers about a variable.
type RegistryEntry struct {
	Name      string
	ValueType VariableType
	Causality CausalityType
	Default   *VariableValue
}

// VariableRegistry maps variable id to its declared metadata. Built once
// per instance at first model-description load (§4.2); read-only after.
type VariableRegistry map[int32]RegistryEntry

// BuildRegistry derives a VariableRegistry from a ModelDescription's
// variable list by a single pass, satisfying P1 (registry consistency)
// by construction: every entry's ValueType comes straight from the
// variable it was built from.
func BuildRegistry(variables []ModelVariable) VariableRegistry {
	reg := make(VariableRegistry, len(variables))
	for _, v := range variables {
		reg[v.ID] = RegistryEntry{
			Name:      v.Name,
			ValueType: v.ValueType,
			Causality: v.Causality,
			Default:   v.Default,
		}
	}
	return reg
}

// Lookup returns the registry entry for id, or (_, false) if unknown.
func (r VariableRegistry) Lookup(id int32) (RegistryEntry, bool) {
	e, ok := r[id]
	return e, ok
}

// CheckTyped validates that id is known and that wantType matches its
// declared ValueType. Used by get_values/set_values/initialize (I1, I2).
func (r VariableRegistry) CheckTyped(id int32, wantType VariableType) error {
	e, ok := r[id]
	if !ok {
		return UnknownVariableID(id)
	}
	if e.ValueType != wantType {
		return VariableTypeMismatch(e.ValueType, id)
	}
	return nil
}

// CheckVarValues validates every id across all four typed maps against
// the registry, returning the first violation found.
func (r VariableRegistry) CheckVarValues(v VarValues) error {
	for id := range v.Real {
		if err := r.CheckTyped(id, VariableTypeReal); err != nil {
			return err
		}
	}
	for id := range v.Int {
		if err := r.CheckTyped(id, VariableTypeInt); err != nil {
			return err
		}
	}
	for id := range v.Bool {
		if err := r.CheckTyped(id, VariableTypeBool); err != nil {
			return err
		}
	}
	for id := range v.String {
		if err := r.CheckTyped(id, VariableTypeString); err != nil {
			return err
		}
	}
	return nil
}

// CheckSettable validates every id in v is known, type-matches, and has
// causality Input (I3), as required by set_values.
func (r VariableRegistry) CheckSettable(v VarValues) error {
	check := func(id int32, wantType VariableType) error {
		e, ok := r[id]
		if !ok {
			return UnknownVariableID(id)
		}
		if e.Causality != CausalityInput {
			return VariableCausalityInvalidForSet(e.Causality, id)
		}
		if e.ValueType != wantType {
			return VariableTypeMismatch(e.ValueType, id)
		}
		return nil
	}
	for id := range v.Real {
		if err := check(id, VariableTypeReal); err != nil {
			return err
		}
	}
	for id := range v.Int {
		if err := check(id, VariableTypeInt); err != nil {
			return err
		}
	}
	for id := range v.Bool {
		if err := check(id, VariableTypeBool); err != nil {
			return err
		}
	}
	for id := range v.String {
		if err := check(id, VariableTypeString); err != nil {
			return err
		}
	}
	return nil
}

// CheckGettable validates that every requested id is known and is not
// Input causality (I4), as required by get_values.
func (r VariableRegistry) CheckGettable(ids []int32) error {
	for _, id := range ids {
		e, ok := r[id]
		if !ok {
			return UnknownVariableID(id)
		}
		if e.Causality == CausalityInput {
			return VariableCausalityMismatch(CausalityInput, id)
		}
	}
	return nil
}

// CheckResponseValues validates every value in a decoded VarValues
// response against the registry (the get_values extraction/validation
// helper of §4.3): every id must exist and the slot it arrived in must
// match the registry's declared type.
func (r VariableRegistry) CheckResponseValues(v VarValues) error {
	return r.CheckVarValues(v)
}
