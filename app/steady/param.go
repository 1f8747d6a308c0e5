package steady

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Value is a single parameter value, either a number or a string.
// It is encoded in JSON as a bare number or a bare string.
type Value struct {
	num   float64
	str   string
	isStr bool
}

// Num makes numeric Value
func Num(v float64) Value { return Value{num: v} }

// Str makes string Value
func Str(s string) Value { return Value{str: s, isStr: true} }

// IsString returns true for string values
func (v Value) IsString() bool { return v.isStr }

// Float returns numeric value. String values are parsed, unparsable strings give 0.
func (v Value) Float() float64 {
	if !v.isStr {
		return v.num
	}
	f, err := strconv.ParseFloat(v.str, 64)
	if err != nil {
		return 0
	}
	return f
}

func (v Value) String() string {
	if v.isStr {
		return v.str
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON encodes value as number or string
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isStr {
		return json.Marshal(v.str)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON accepts number or string
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Str(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("value %s is neither number nor string: %w", data, err)
	}
	*v = Num(f)
	return nil
}

// MarshalYAML encodes value as number or string
func (v Value) MarshalYAML() (any, error) {
	if v.isStr {
		return v.str, nil
	}
	return v.num, nil
}

// UnmarshalYAML accepts scalar number or string. Quoted scalars stay strings.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: value must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!str":
		*v = Str(node.Value)
		return nil
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: bad number %q: %w", node.Line, node.Value, err)
		}
		*v = Num(f)
		return nil
	}
	return fmt.Errorf("line %d: value %q is neither number nor string", node.Line, node.Value)
}

// JSONSchema describes Value as number or string
func (Value) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{{Type: "number"}, {Type: "string"}},
	}
}

// Parameter is a named value. Data holds exactly one value in practice.
type Parameter struct {
	Name string  `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Data []Value `json:"data" yaml:"data"`
}

// ParameterSet is an ordered list of parameters, names are unique.
// Order is the display order.
type ParameterSet []Parameter

// Index returns position of the named parameter or -1
func (ps ParameterSet) Index(name string) int {
	for i, p := range ps {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Value returns the first value of the named parameter, zero number if absent or empty
func (ps ParameterSet) Value(name string) Value {
	i := ps.Index(name)
	if i < 0 || len(ps[i].Data) == 0 {
		return Num(0)
	}
	return ps[i].Data[0]
}

// Update replaces data of the named parameter with a single value.
// Returns false and leaves the set untouched if the name is unknown.
func (ps ParameterSet) Update(name string, v Value) bool {
	i := ps.Index(name)
	if i < 0 {
		return false
	}
	ps[i].Data = []Value{v}
	return true
}

// Clone makes a deep copy
func (ps ParameterSet) Clone() ParameterSet {
	if ps == nil {
		return nil
	}
	res := make(ParameterSet, len(ps))
	for i, p := range ps {
		res[i] = Parameter{Name: p.Name, Data: append([]Value(nil), p.Data...)}
	}
	return res
}

// Validate checks names are not empty and unique
func (ps ParameterSet) Validate() error {
	seen := make(map[string]bool, len(ps))
	for i, p := range ps {
		if p.Name == "" {
			return fmt.Errorf("parameter %d has empty name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
