package iec61850

import (
	"fmt"
	"slices"
	"strings"
)

// MmsVariableSpec describes the type of an MMS variable. It models the
// tagged-union style by having a common Type and optional variant-specific
// fields/children.
type MmsVariableSpec struct {
	Type MmsType
	Name string

	// Complex type variants
	Array     *MmsArraySpec
	Structure *MmsStructureSpec

	// Scalar/meta information for simple types
	IntegerBits        int // for Integer
	UnsignedBits       int // for Unsigned
	FloatExponentWidth int // for Float
	FloatFormatWidth   int // for Float
	BitStringSize      int // number of bits
	OctetStringSize    int // number of octets
	VisibleStringSize  int // max chars
	MmsStringSize      int // MMS String size
	BinaryTimeSize     int // 4 or 6
}

// MmsArraySpec describes an MMS array type
type MmsArraySpec struct {
	ElementCount int
	Element      *MmsVariableSpec
}

// MmsStructureSpec describes an MMS structure type
type MmsStructureSpec struct {
	Elements []MmsVariableSpec // children, each with its own name and Type
}

// GetChildSpec returns the structure element with the given name, or nil.
func (s *MmsVariableSpec) GetChildSpec(name string) (*MmsVariableSpec, int) {
	if s == nil || s.Structure == nil {
		return nil, -1
	}
	for i := range s.Structure.Elements {
		if s.Structure.Elements[i].Name == name {
			return &s.Structure.Elements[i], i
		}
	}
	return nil, -1
}

// getSubElementValue resolves a named element of a structured value using its
// variable specification for the name-to-index mapping.
func getSubElementValue(val *MmsValue, spec *MmsVariableSpec, name string) (*MmsValue, error) {
	child, idx := spec.GetChildSpec(name)
	if child == nil {
		return nil, fmt.Errorf("no element %q in specification", name)
	}
	return val.GetElement(idx)
}

// VariableTypeValue represents a flattened variable leaf with its MMS type,
// name from the specification, full object reference, and parsed Go value.
// For composite (Array/Structure) types we don't emit an entry; we only emit
// leaves that carry a concrete value.
type VariableTypeValue struct {
	Type  MmsType
	Name  string
	Ref   string
	Value any
}

// GetVariableSpecification retrieves the MMS variable specification for the given
// data attribute reference and functional constraint (FC) from the server.
//
// Params:
//   - dataAttributeReference: full object reference (e.g. "IEDNAME/LD0.LLN0.Mod.stVal")
//   - fc: functional constraint to query (e.g. ST, SP, ...)
//
// Returns:
//   - *MmsVariableSpec describing the type. For arrays/structures the result is
//     populated recursively and can be printed using `String()`.
//   - error if the server returned an error or the specification could not be retrieved.
func (c *Client) GetVariableSpecification(dataAttributeReference string, fc FC) (*MmsVariableSpec, error) {
	resp, err := c.invoke(GetVariableSpecRequest{Ref: dataAttributeReference, FC: fc})
	if err != nil {
		return nil, fmt.Errorf("GetVariableSpecification %s[%s]: %w", dataAttributeReference, fc, err)
	}
	spec := resp.(GetVariableSpecResponse).Spec
	if spec == nil {
		return nil, fmt.Errorf("GetVariableSpecification %s[%s]: no specification: %w",
			dataAttributeReference, fc, IED_ERROR_OBJECT_DOES_NOT_EXIST)
	}
	return spec, nil
}

type Vars map[string][]string

type FCVar struct {
	LN     string
	FCVars map[string]Vars
}

func (c *Client) GetLogicalDeviceVariablesHierarchical(ldName string) ([]FCVar, error) {
	vars, err := c.GetLogicalDeviceVariables(ldName)
	if err != nil {
		return nil, err
	}

	m := make(map[string]FCVar)

	for _, v := range vars {
		parts := strings.SplitN(v, "$", 3)
		if len(parts) != 3 {
			// Skip the top level variable names
			continue
		}

		lnName := parts[0]
		fc := parts[1]
		variable := parts[2]
		variables := strings.SplitN(variable, "$", 2)
		base := variables[0]

		if _, ok := m[lnName]; !ok {
			m[lnName] = FCVar{LN: lnName, FCVars: make(map[string]Vars)}
		}
		if _, ok := m[lnName].FCVars[fc]; !ok {
			m[lnName].FCVars[fc] = make(Vars)
		}
		if _, ok := m[lnName].FCVars[fc][base]; !ok {
			m[lnName].FCVars[fc][base] = make([]string, 0)
		}
		if len(variables) == 2 {
			m[lnName].FCVars[fc][base] = append(m[lnName].FCVars[fc][base], variables[1])
		}
	}

	ret := make([]FCVar, 0, len(m))
	for _, v := range m {
		ret = append(ret, v)
	}
	slices.SortFunc(ret, func(a, b FCVar) int {
		return strings.Compare(a.LN, b.LN)
	})
	return ret, nil
}

// GetLogicalDeviceVariables lists the MMS variable names of a logical device.
func (c *Client) GetLogicalDeviceVariables(ldName string) ([]string, error) {
	resp, err := c.invoke(GetDirectoryRequest{Ref: ldName, Class: ACSI_CLASS_DATA_OBJECT})
	if err != nil {
		return nil, fmt.Errorf("GetLogicalDeviceVariables %s: %w", ldName, err)
	}
	return resp.(GetDirectoryResponse).Names, nil
}

// GetLogicalDeviceDataSets lists the data set names of a logical device.
func (c *Client) GetLogicalDeviceDataSets(ldName string) ([]string, error) {
	resp, err := c.invoke(GetDirectoryRequest{Ref: ldName, Class: ACSI_CLASS_DATA_SET})
	if err != nil {
		return nil, fmt.Errorf("GetLogicalDeviceDataSets %s: %w", ldName, err)
	}
	return resp.(GetDirectoryResponse).Names, nil
}

// GetVariableTypeValues collects all leaf variables and their values for the given
// object reference and functional constraint. It retrieves both the MMS variable
// specification and the current value, then matches them recursively to produce
// a flat list of variable/value pairs. Composite nodes (Array/Structure) are
// traversed but not returned as items; only scalar leaves are returned.
func (c *Client) GetVariableTypeValues(objectRef string, fc FC) ([]VariableTypeValue, error) {
	// Fetch specification
	spec, err := c.GetVariableSpecification(objectRef, fc)
	if err != nil {
		return nil, err
	}

	val, err := c.ReadObject(objectRef, fc)
	if err != nil {
		return nil, err
	}

	out := make([]VariableTypeValue, 0)

	// Helper: recursively align spec and value and collect leaves
	var walk func(spec *MmsVariableSpec, val *MmsValue, curRef string, curName string) error
	walk = func(spec *MmsVariableSpec, val *MmsValue, curRef string, curName string) error {
		if spec == nil || val == nil {
			return fmt.Errorf("nil spec or value for ref %s", curRef)
		}

		switch spec.Type {
		case Array:
			if val.Type != Array {
				return fmt.Errorf("type mismatch at %s: spec Array, value %d", curRef, val.Type)
			}
			elems, ok := val.Value.([]*MmsValue)
			if !ok {
				return fmt.Errorf("unexpected value for array at %s", curRef)
			}
			if spec.Array == nil || spec.Array.Element == nil {
				return fmt.Errorf("array spec missing element at %s", curRef)
			}
			// Iterate elements; element spec is shared
			for i, child := range elems {
				nextRef := fmt.Sprintf("%s[%d]", curRef, i)
				nextName := fmt.Sprintf("%s[%d]", curName, i)
				if spec.Array.Element.Name != "" {
					nextName = spec.Array.Element.Name
				}
				if err := walk(spec.Array.Element, child, nextRef, nextName); err != nil {
					return err
				}
			}
			return nil
		case Structure:
			if val.Type != Structure {
				return fmt.Errorf("type mismatch at %s: spec Structure, value %d", curRef, val.Type)
			}
			elems, ok := val.Value.([]*MmsValue)
			if !ok {
				return fmt.Errorf("unexpected value for structure at %s", curRef)
			}
			if spec.Structure == nil {
				return fmt.Errorf("structure spec missing children at %s", curRef)
			}
			n := len(elems)
			if len(spec.Structure.Elements) < n {
				n = len(spec.Structure.Elements)
			}
			for i := 0; i < n; i++ {
				childSpec := &spec.Structure.Elements[i]
				fieldName := childSpec.Name
				nextRef := curRef
				if fieldName != "" {
					nextRef = curRef + "." + fieldName
				}
				nextName := fieldName
				if nextName == "" {
					nextName = curName
				}
				if err := walk(childSpec, elems[i], nextRef, nextName); err != nil {
					return err
				}
			}
			return nil
		default:
			// Leaf node: add to output
			leafName := spec.Name
			if leafName == "" {
				leafName = curName
			}
			out = append(out, VariableTypeValue{
				Type:  val.Type,
				Name:  leafName,
				Ref:   curRef,
				Value: val.Value,
			})
			return nil
		}
	}

	// Start with the provided reference and the spec root name
	startName := spec.Name
	if startName == "" {
		// derive from objectRef last path if possible
		if idx := strings.LastIndex(objectRef, "."); idx != -1 && idx+1 < len(objectRef) {
			startName = objectRef[idx+1:]
		} else {
			startName = objectRef
		}
	}

	if err := walk(spec, val, objectRef, startName); err != nil {
		return nil, err
	}
	return out, nil
}
