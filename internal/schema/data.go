package schema

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// ErrInvalidPattern is returned for an information table pattern that does
// not compile
var ErrInvalidPattern = errors.New("invalid info table pattern")

// CompileInfoTablePattern compiles an information table pattern. It returns
// nil for an empty pattern.
func CompileInfoTablePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, nil
}

// TableData holds the tracked rows of an information table.
// Values are raw text or nil. Binary values are kept byte for byte.
type TableData struct {
	Fields []string    `json:"fields"`
	Rows   [][]*string `json:"rows"`
}

// binaryValue is the serialized form of a value that is not valid UTF-8
type binaryValue struct {
	Base64 string `json:"b64"`
}

type tableDataJSON struct {
	Fields []string            `json:"fields"`
	Rows   [][]json.RawMessage `json:"rows"`
}

// MarshalJSON writes text values as strings and binary values as base64
// objects, since JSON replaces invalid UTF-8
func (d TableData) MarshalJSON() ([]byte, error) {
	out := tableDataJSON{Fields: d.Fields, Rows: make([][]json.RawMessage, len(d.Rows))}
	for i, row := range d.Rows {
		out.Rows[i] = make([]json.RawMessage, len(row))
		for j, val := range row {
			var (
				raw []byte
				err error
			)
			switch {
			case val == nil:
				raw = []byte("null")
			case utf8.ValidString(*val):
				raw, err = json.Marshal(*val)
			default:
				raw, err = json.Marshal(binaryValue{Base64: base64.StdEncoding.EncodeToString([]byte(*val))})
			}
			if err != nil {
				return nil, fmt.Errorf("failed to marshal value: %w", err)
			}
			out.Rows[i][j] = raw
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the form written by MarshalJSON
func (d *TableData) UnmarshalJSON(data []byte) error {
	var in tableDataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	d.Fields = in.Fields
	d.Rows = make([][]*string, len(in.Rows))
	for i, row := range in.Rows {
		d.Rows[i] = make([]*string, len(row))
		for j, raw := range row {
			val, err := decodeValue(raw)
			if err != nil {
				return fmt.Errorf("failed to unmarshal value of %s: %w", fieldName(in.Fields, j), err)
			}
			d.Rows[i][j] = val
		}
	}
	return nil
}

func decodeValue(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '{' {
		var bin binaryValue
		if err := json.Unmarshal(raw, &bin); err != nil {
			return nil, err
		}
		b, err := base64.StdEncoding.DecodeString(bin.Base64)
		if err != nil {
			return nil, err
		}
		return Str(string(b)), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func fieldName(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return fmt.Sprintf("#%d", i)
}
