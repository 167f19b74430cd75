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

import "fmt"

// ErrorKind is the closed taxonomy of spec §7.
type ErrorKind int

const (
	ErrMissingDtasmExport ErrorKind = iota
	ErrInvalidCallingOrder
	ErrUnknownVariableID
	ErrVariableTypeMismatch
	ErrVariableCausalityMismatch
	ErrVariableCausalityInvalidForSet
	ErrInvalidVariableValue
	ErrDtasmInternalError
	ErrNotImplementedError
	ErrTransport
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMissingDtasmExport:
		return "MissingDtasmExport"
	case ErrInvalidCallingOrder:
		return "InvalidCallingOrder"
	case ErrUnknownVariableID:
		return "UnknownVariableId"
	case ErrVariableTypeMismatch:
		return "VariableTypeMismatch"
	case ErrVariableCausalityMismatch:
		return "VariableCausalityMismatch"
	case ErrVariableCausalityInvalidForSet:
		return "VariableCausalityInvalidForSet"
	case ErrInvalidVariableValue:
		return "InvalidVariableValue"
	case ErrDtasmInternalError:
		return "DtasmInternalError"
	case ErrNotImplementedError:
		return "NotImplementedError"
	case ErrTransport:
		return "Transport"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every dispatcher operation returns.
// It wraps an optional underlying cause (transport failures) without
// losing its ErrorKind for caller-side switch dispatch.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, dtasm.UnknownVariableID(0)) style checks by
// comparing Kind against an *Error target, since ErrorKind values aren't
// themselves errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func MissingDtasmExport(name string) *Error {
	return &Error{Kind: ErrMissingDtasmExport, Message: name}
}

func InvalidCallingOrder(what string) *Error {
	return &Error{Kind: ErrInvalidCallingOrder, Message: what}
}

func UnknownVariableID(id int32) *Error {
	return &Error{Kind: ErrUnknownVariableID, Message: fmt.Sprintf("id %d", id)}
}

func VariableTypeMismatch(expected VariableType, id int32) *Error {
	return &Error{Kind: ErrVariableTypeMismatch, Message: fmt.Sprintf("expected %s for id %d", expected, id)}
}

func VariableCausalityMismatch(causality CausalityType, id int32) *Error {
	return &Error{Kind: ErrVariableCausalityMismatch, Message: fmt.Sprintf("%s variable id %d", causality, id)}
}

func VariableCausalityInvalidForSet(causality CausalityType, id int32) *Error {
	return &Error{Kind: ErrVariableCausalityInvalidForSet, Message: fmt.Sprintf("%s variable id %d", causality, id)}
}

func InvalidVariableValue(repr string, id int32) *Error {
	return &Error{Kind: ErrInvalidVariableValue, Message: fmt.Sprintf("%s for id %d", repr, id)}
}

func DtasmInternalError(message string) *Error {
	return &Error{Kind: ErrDtasmInternalError, Message: message}
}

func NotImplementedError(what string) *Error {
	return &Error{Kind: ErrNotImplementedError, Message: what}
}

func Transport(cause error) *Error {
	return &Error{Kind: ErrTransport, Message: "sandbox call failed", Cause: cause}
}
