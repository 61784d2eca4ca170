package domain

import (
	"fmt"
	"strings"
)

// DepartmentType identifies a processing station kind. The set is closed; values
// outside departmentSequence are rejected by ParseDepartmentType.
type DepartmentType string

// Department types in manufacturing order.
const (
	DeptCleanroom DepartmentType = "CLEANROOM"
	DeptAutoclave DepartmentType = "AUTOCLAVE"
	DeptNDI       DepartmentType = "NDI"
	DeptMachining DepartmentType = "MACHINING"
	DeptAssembly  DepartmentType = "ASSEMBLY"
	DeptCoating   DepartmentType = "COATING"
	DeptShipping  DepartmentType = "SHIPPING"
)

var departmentSequence = []DepartmentType{
	DeptCleanroom,
	DeptAutoclave,
	DeptNDI,
	DeptMachining,
	DeptAssembly,
	DeptCoating,
	DeptShipping,
}

// DepartmentSequence returns the canonical manufacturing order.
func DepartmentSequence() []DepartmentType {
	out := make([]DepartmentType, len(departmentSequence))
	copy(out, departmentSequence)
	return out
}

// ParseDepartmentType validates a department type name (case-insensitive).
func ParseDepartmentType(raw string) (DepartmentType, error) {
	candidate := DepartmentType(strings.ToUpper(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", InvalidInput(fmt.Sprintf("unknown department type %q", raw))
}

// Valid reports whether the type belongs to the closed department set.
func (t DepartmentType) Valid() bool {
	return t.position() >= 0
}

func (t DepartmentType) position() int {
	for i, candidate := range departmentSequence {
		if candidate == t {
			return i
		}
	}
	return -1
}

// Next returns the successor department type, or false for the final stage.
func (t DepartmentType) Next() (DepartmentType, bool) {
	pos := t.position()
	if pos < 0 || pos == len(departmentSequence)-1 {
		return "", false
	}
	return departmentSequence[pos+1], true
}

// Previous returns the predecessor department type, or false for the first stage.
func (t DepartmentType) Previous() (DepartmentType, bool) {
	pos := t.position()
	if pos <= 0 {
		return "", false
	}
	return departmentSequence[pos-1], true
}

// IsLast reports whether the type is the final manufacturing stage.
func (t DepartmentType) IsLast() bool {
	return t.Valid() && t.position() == len(departmentSequence)-1
}

// Department is a processing station instance.
type Department struct {
	Base
	Name   string         `json:"name"`
	Type   DepartmentType `json:"type"`
	Active bool           `json:"active"`
}
