package flow

import (
	"fmt"
	"strings"
)

// ValueType represents the type of a value on the stack or in a variable slot.
type ValueType interface {
	valueType()
}

func (*BooleanType) valueType()   {}
func (*IntegerType) valueType()   {}
func (*RealType) valueType()      {}
func (*StringType) valueType()    {}
func (*ArrayType) valueType()     {}
func (*StructureType) valueType() {}
func (*EmptyType) valueType()     {}

type BooleanType struct{}
type IntegerType struct{}
type RealType struct{}
type StringType struct{}

// EmptyType marks a method without a return value. It is never the type of
// an expression.
type EmptyType struct{}

// Primitive types.
var (
	Boolean = &BooleanType{}
	Integer = &IntegerType{}
	Real    = &RealType{}
	String  = &StringType{}
	Empty   = &EmptyType{}
)

// ArrayType represents an array indexed by integers.
type ArrayType struct {
	Elem ValueType
}

// NewArrayType returns a new array type with the given element type.
func NewArrayType(elem ValueType) *ArrayType {
	return &ArrayType{Elem: elem}
}

// StructureType represents a named record type.
type StructureType struct {
	Name   string
	Fields []Field
}

// Field represents a single field of a structure.
type Field struct {
	Name string
	Type ValueType
}

// TypesEqual returns true if a and b are structurally equal.
func TypesEqual(a, b ValueType) bool {
	switch a := a.(type) {
	case *BooleanType:
		_, ok := b.(*BooleanType)
		return ok
	case *IntegerType:
		_, ok := b.(*IntegerType)
		return ok
	case *RealType:
		_, ok := b.(*RealType)
		return ok
	case *StringType:
		_, ok := b.(*StringType)
		return ok
	case *EmptyType:
		_, ok := b.(*EmptyType)
		return ok
	case *ArrayType:
		other, ok := b.(*ArrayType)
		return ok && TypesEqual(a.Elem, other.Elem)
	case *StructureType:
		other, ok := b.(*StructureType)
		if !ok || a.Name != other.Name || len(a.Fields) != len(other.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != other.Fields[i].Name || !TypesEqual(a.Fields[i].Type, other.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// typesEqual returns true if both lists are pairwise structurally equal.
func typesEqual(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !TypesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// IsNumeric returns true for integer and real types.
func IsNumeric(t ValueType) bool {
	switch t.(type) {
	case *IntegerType, *RealType:
		return true
	default:
		return false
	}
}

// TypeString returns the textual name of a type.
func TypeString(t ValueType) string {
	switch t := t.(type) {
	case nil:
		return "<nil>"
	case *BooleanType:
		return "bool"
	case *IntegerType:
		return "int"
	case *RealType:
		return "real"
	case *StringType:
		return "string"
	case *EmptyType:
		return "void"
	case *ArrayType:
		return "[" + TypeString(t.Elem) + "]"
	case *StructureType:
		return "struct " + t.Name
	default:
		return fmt.Sprintf("%T", t)
	}
}

func (t *BooleanType) String() string   { return TypeString(t) }
func (t *IntegerType) String() string   { return TypeString(t) }
func (t *RealType) String() string      { return TypeString(t) }
func (t *StringType) String() string    { return TypeString(t) }
func (t *EmptyType) String() string     { return TypeString(t) }
func (t *ArrayType) String() string     { return TypeString(t) }
func (t *StructureType) String() string { return TypeString(t) }

func typeList(a []ValueType) string {
	s := make([]string, len(a))
	for i, t := range a {
		s[i] = TypeString(t)
	}
	return "[" + strings.Join(s, " ") + "]"
}
