package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// valueKind tags the variant held by a fieldValue.
type valueKind int

const (
	valueNull valueKind = iota
	valueString
	valueNumber
	valueBool
	valueArray
	valueObject
)

// fieldValue is one entry of the registry's fdata object. The registry stores
// each form value as a small array or an index-keyed object whose element 2 is
// the value shown in the form.
type fieldValue struct {
	kind   valueKind
	str    string
	num    json.Number
	b      bool
	array  []fieldValue
	object map[string]fieldValue
}

func (v *fieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty fdata value")
	}

	switch data[0] {
	case 'n':
		*v = fieldValue{kind: valueNull}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = fieldValue{kind: valueBool, b: b}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = fieldValue{kind: valueString, str: s}
		return nil
	case '[':
		var arr []fieldValue
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*v = fieldValue{kind: valueArray, array: arr}
		return nil
	case '{':
		var obj map[string]fieldValue
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*v = fieldValue{kind: valueObject, object: obj}
		return nil
	default:
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("invalid fdata value %q: %w", data, err)
		}
		*v = fieldValue{kind: valueNumber, num: n}
		return nil
	}
}

// flatten reduces a value to the single string the form displays: element 2 of
// an array, key "2" of an object, the string form of a scalar.
func (v fieldValue) flatten() string {
	switch v.kind {
	case valueString:
		return v.str
	case valueNumber:
		return v.num.String()
	case valueBool:
		return strconv.FormatBool(v.b)
	case valueArray:
		if len(v.array) > 2 {
			return v.array[2].flatten()
		}
		return ""
	case valueObject:
		if elem, ok := v.object["2"]; ok {
			return elem.flatten()
		}
		return ""
	default:
		return ""
	}
}

const fdataMarker = "var fdata"

// Some pages set single values after the literal, in JavaScript rather than
// JSON syntax: fdata['auto_num'][2]='2023|12';
var (
	fdataAssignPattern = regexp.MustCompile(`fdata\['([^']+)'\]\[2\]\s*=\s*'((?:[^'\\]|\\.)*)'\s*;`)
	jsUnescaper        = strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\\`, `\`)
)

// parseFData finds the fdata assignment in the page scripts and returns the
// flattened field map. The literal after "var fdata" must be JSON; per-key
// assignments found anywhere in the scripts override it.
func parseFData(scripts []string) (map[string]string, error) {
	var literal map[string]string
	var literalErr error
	assigned := map[string]string{}

	for _, script := range scripts {
		if idx := strings.Index(script, fdataMarker); idx >= 0 && literal == nil {
			literal, literalErr = decodeFData(script[idx+len(fdataMarker):])
		}
		for _, m := range fdataAssignPattern.FindAllStringSubmatch(script, -1) {
			assigned[m[1]] = jsUnescaper.Replace(m[2])
		}
	}

	if literal == nil && len(assigned) == 0 {
		if literalErr != nil {
			return nil, literalErr
		}
		return nil, fmt.Errorf("no script contains %q", fdataMarker)
	}

	fields := make(map[string]string, len(literal)+len(assigned))
	maps.Copy(fields, literal)
	maps.Copy(fields, assigned)
	return fields, nil
}

func decodeFData(rest string) (map[string]string, error) {
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil, fmt.Errorf("fdata has no object literal")
	}

	var raw map[string]fieldValue
	dec := json.NewDecoder(strings.NewReader(rest[start:]))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode fdata: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		fields[name] = value.flatten()
	}
	return fields, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
