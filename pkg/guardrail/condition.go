package guardrail

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/governance"
)

// Field names a property of the evaluation context.
type Field string

const (
	FieldOperatorScore Field = "operator_score"
	FieldDomain        Field = "domain"
	FieldRiskLevel     Field = "risk_level"
	FieldSandbox       Field = "sandbox"
)

// Op is a comparison operator.
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpEQ Op = "="
)

// operatorTokens is ordered so two-character operators are found before
// their one-character prefixes.
var operatorTokens = []Op{OpLE, OpGE, "==", OpLT, OpGT, OpEQ}

// ValueKind tags the type held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "string"
	}
}

// Value is a condition operand: a number, a string or a boolean.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// String returns a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return strconv.Quote(v.Str)
	}
}

// UnmarshalYAML decodes a scalar, using the YAML tag to pick the kind.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: condition value must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid number %q", node.Line, node.Value)
		}
		*v = Number(f)
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
	default:
		*v = String(node.Value)
	}
	return nil
}

// MarshalYAML encodes the value as a native scalar.
func (v Value) MarshalYAML() (interface{}, error) {
	switch v.Kind {
	case KindNumber:
		return v.Num, nil
	case KindBool:
		return v.Bool, nil
	default:
		return v.Str, nil
	}
}

// Condition is a single field/operator/value triple.
type Condition struct {
	Field Field `yaml:"field"`
	Op    Op    `yaml:"op"`
	Value Value `yaml:"value"`
}

// UnmarshalYAML accepts either a mapping with field, op and value or a
// compact string such as "operator_score < 50".
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseCondition(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*c = parsed
		return nil
	}
	type plain Condition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Condition(p)
	if c.Op == "==" {
		c.Op = OpEQ
	}
	return nil
}

// ParseCondition parses the compact form "field op value". String values may
// be quoted; unquoted true/false are booleans and numerals are numbers.
func ParseCondition(s string) (Condition, error) {
	for _, tok := range operatorTokens {
		i := strings.Index(s, string(tok))
		if i < 0 {
			continue
		}
		field := strings.TrimSpace(s[:i])
		raw := strings.TrimSpace(s[i+len(tok):])
		if field == "" || raw == "" {
			return Condition{}, fmt.Errorf("malformed condition %q", s)
		}
		op := tok
		if op == "==" {
			op = OpEQ
		}
		return Condition{Field: Field(field), Op: op, Value: parseValue(raw)}, nil
	}
	return Condition{}, fmt.Errorf("condition %q has no operator", s)
}

func parseValue(raw string) Value {
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return String(raw[1 : len(raw)-1])
	}
	switch strings.ToLower(raw) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Number(f)
	}
	return String(raw)
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Value)
}

// validate checks the field, operator and value kind. Numeric operators are
// only defined on operator_score; the other fields accept equality only.
func (c *Condition) validate() error {
	switch c.Op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ:
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}

	switch c.Field {
	case FieldOperatorScore:
		if c.Value.Kind != KindNumber {
			return fmt.Errorf("%s requires a number, got %s", c.Field, c.Value.Kind)
		}
	case FieldDomain:
		if c.Op != OpEQ {
			return fmt.Errorf("%s supports only =", c.Field)
		}
		if c.Value.Kind != KindString {
			return fmt.Errorf("%s requires a string, got %s", c.Field, c.Value.Kind)
		}
	case FieldRiskLevel:
		if c.Op != OpEQ {
			return fmt.Errorf("%s supports only =", c.Field)
		}
		if c.Value.Kind != KindString {
			return fmt.Errorf("%s requires a string, got %s", c.Field, c.Value.Kind)
		}
		level, err := governance.ParseRiskLevel(c.Value.Str)
		if err != nil {
			return err
		}
		c.Value.Str = string(level)
	case FieldSandbox:
		if c.Op != OpEQ {
			return fmt.Errorf("%s supports only =", c.Field)
		}
		if c.Value.Kind != KindBool {
			return fmt.Errorf("%s requires a bool, got %s", c.Field, c.Value.Kind)
		}
	default:
		return fmt.Errorf("unknown field %q", c.Field)
	}
	return nil
}

// Match evaluates the condition. A numeric comparison against an unknown
// operator score is false.
func (c Condition) Match(ec *EvalContext) bool {
	switch c.Field {
	case FieldOperatorScore:
		if ec.OperatorScore == nil {
			return false
		}
		return compare(*ec.OperatorScore, c.Op, c.Value.Num)
	case FieldDomain:
		return strings.EqualFold(ec.Domain, c.Value.Str)
	case FieldRiskLevel:
		return string(ec.RiskLevel) == c.Value.Str
	case FieldSandbox:
		return ec.Sandbox == c.Value.Bool
	default:
		return false
	}
}

func compare(actual float64, op Op, expected float64) bool {
	switch op {
	case OpLT:
		return actual < expected
	case OpLE:
		return actual <= expected
	case OpGT:
		return actual > expected
	case OpGE:
		return actual >= expected
	case OpEQ:
		return actual == expected
	default:
		return false
	}
}

// matchAll reports whether every condition holds. An empty set always holds.
func matchAll(conds []Condition, ec *EvalContext) bool {
	for _, c := range conds {
		if !c.Match(ec) {
			return false
		}
	}
	return true
}

// key is the canonical form used to compare conditions for equality.
func (c Condition) key() string {
	v := c.Value.String()
	if c.Field == FieldDomain {
		v = strings.ToLower(v)
	}
	return fmt.Sprintf("%s%s%s", c.Field, c.Op, v)
}

// conditionKeys returns the sorted, deduplicated canonical keys of a set.
func conditionKeys(conds []Condition) []string {
	seen := make(map[string]struct{}, len(conds))
	keys := make([]string, 0, len(conds))
	for _, c := range conds {
		k := c.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
