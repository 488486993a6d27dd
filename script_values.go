// script_values.go: Constructor parameter union and conversions between Go and script values
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

// ParamKind discriminates ParamValue.
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamFloat
	ParamString
)

func (k ParamKind) String() string {
	switch k {
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	default:
		return "string"
	}
}

// ParamValue is a constructor argument: an int, a float or a string.
type ParamValue struct {
	kind ParamKind
	i    int64
	f    float64
	s    string
}

func IntParam(v int64) ParamValue        { return ParamValue{kind: ParamInt, i: v} }
func FloatParam(v float64) ParamValue    { return ParamValue{kind: ParamFloat, f: v} }
func StringParam(v string) ParamValue    { return ParamValue{kind: ParamString, s: v} }
func (v ParamValue) Kind() ParamKind     { return v.kind }
func (v ParamValue) Int() int64          { return v.i }
func (v ParamValue) Float() float64      { return v.f }
func (v ParamValue) StringValue() string { return v.s }

// String renders the value as it would be written in configuration.
func (v ParamValue) String() string {
	switch v.kind {
	case ParamInt:
		return strconv.FormatInt(v.i, 10)
	case ParamFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// ParseParamValue infers the narrowest kind: int, then float, then string.
func ParseParamValue(text string) ParamValue {
	trimmed := strings.TrimSpace(text)
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return IntParam(i)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return FloatParam(f)
	}
	return StringParam(text)
}

func (v ParamValue) toStarlark() starlark.Value {
	switch v.kind {
	case ParamInt:
		return starlark.MakeInt64(v.i)
	case ParamFloat:
		return starlark.Float(v.f)
	default:
		return starlark.String(v.s)
	}
}

// NamedParam is a constructor argument matched to the script by name.
type NamedParam struct {
	Name  string
	Value ParamValue
}

// buildConstructorArgs matches provided params against the declared names:
// positional in declared order up to the first name not provided, keyword
// arguments for the rest. Provided names that are not declared are returned
// as ignored.
func buildConstructorArgs(declared []string, provided []NamedParam) (args starlark.Tuple, kwargs []starlark.Tuple, ignored []string) {
	byName := make(map[string]ParamValue, len(provided))
	for _, p := range provided {
		byName[p.Name] = p.Value
	}

	positional := true
	used := make(map[string]bool, len(declared))
	for _, name := range declared {
		value, ok := byName[name]
		if !ok {
			positional = false
			continue
		}
		used[name] = true
		if positional {
			args = append(args, value.toStarlark())
		} else {
			kwargs = append(kwargs, starlark.Tuple{starlark.String(name), value.toStarlark()})
		}
	}
	for _, p := range provided {
		if !used[p.Name] {
			ignored = append(ignored, p.Name)
		}
	}
	return args, kwargs, ignored
}

func floatList(values []float64) *starlark.List {
	elems := make([]starlark.Value, len(values))
	for i, v := range values {
		elems[i] = starlark.Float(v)
	}
	return starlark.NewList(elems)
}

func stringList(values []string) *starlark.List {
	elems := make([]starlark.Value, len(values))
	for i, v := range values {
		elems[i] = starlark.String(v)
	}
	return starlark.NewList(elems)
}

func toFloat(v starlark.Value, what string) (float64, error) {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, NewMarshalError(what, v.Type())
	}
	return f, nil
}

func toInt(v starlark.Value, what string) (int, error) {
	i, err := starlark.AsInt32(v)
	if err != nil {
		return 0, NewMarshalError(what, v.Type())
	}
	return i, nil
}

func toFloats(v starlark.Value, what string) ([]float64, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, NewMarshalError(what, v.Type())
	}
	// Len is -1 for iterables of unknown length.
	out := make([]float64, 0, max(starlark.Len(v), 0))
	iter := iterable.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		f, err := toFloat(elem, what+" element")
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func toText(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// toStringTable converts a sequence of sequences, stringifying every element.
func toStringTable(v starlark.Value, what string) ([][]string, error) {
	outer, ok := v.(starlark.Iterable)
	if !ok {
		return nil, NewMarshalError(what, v.Type())
	}
	var table [][]string
	rows := outer.Iterate()
	defer rows.Done()
	var row starlark.Value
	for rows.Next(&row) {
		inner, ok := row.(starlark.Iterable)
		if !ok {
			return nil, NewMarshalError(what+" row", row.Type())
		}
		var tokens []string
		cells := inner.Iterate()
		var cell starlark.Value
		for cells.Next(&cell) {
			tokens = append(tokens, toText(cell))
		}
		cells.Done()
		table = append(table, tokens)
	}
	return table, nil
}
