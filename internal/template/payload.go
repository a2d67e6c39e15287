package template

import (
	"encoding/json"
	"fmt"

	"nudge/internal/constants"
)

// Payload is the raw key/value map a charge carries. Substitution values
// live under the nested "Payload" object; system fields (recipient address,
// due date) live at the root.
type Payload map[string]interface{}

func ParsePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, nil
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	return p, nil
}

// Nested returns the inner substitution object, or an empty map when absent.
func (p Payload) Nested() map[string]interface{} {
	if nested, ok := p[constants.PayloadField].(map[string]interface{}); ok {
		return nested
	}
	return map[string]interface{}{}
}

// Values stringifies the nested substitution object for rendering.
func (p Payload) Values() map[string]string {
	nested := p.Nested()
	values := make(map[string]string, len(nested))
	for k, v := range nested {
		values[k] = stringify(v)
	}
	return values
}

// RootString returns a root field as a string, empty when absent.
func (p Payload) RootString(key string) string {
	if v, ok := p[key]; ok {
		return stringify(v)
	}
	return ""
}

// MissingVariables checks a payload against a rule's variable requirements
// and returns every unsatisfied name at once. Variables marked as system
// variables are looked up at the payload root; all others inside the nested
// object. The due-date field is always required at the root.
func MissingVariables(payloadVars, systemVars []string, p Payload) []string {
	system := make(map[string]struct{}, len(systemVars))
	for _, v := range systemVars {
		system[v] = struct{}{}
	}

	nested := p.Nested()

	var missing []string
	reported := make(map[string]struct{})
	report := func(name string) {
		if _, ok := reported[name]; ok {
			return
		}
		reported[name] = struct{}{}
		missing = append(missing, name)
	}

	for _, name := range payloadVars {
		if _, isSystem := system[name]; isSystem {
			if !hasValue(p, name) {
				report(name)
			}
			continue
		}
		if !hasValue(nested, name) {
			report(name)
		}
	}

	for _, name := range systemVars {
		if !hasValue(p, name) {
			report(name)
		}
	}

	if !hasValue(p, constants.DueDateField) {
		report(constants.DueDateField)
	}

	return missing
}

func hasValue(m map[string]interface{}, key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

func stringify(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%v", value)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}
