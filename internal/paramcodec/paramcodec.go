// Package paramcodec converts between a node's raw JSON parameter bag
// and the editable field values shown by the properties panel.
package paramcodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/helixsec/studio-go/pkg/types"
)

// ErrUnknownField is returned when editing a key absent from the node
// type's field list.
var ErrUnknownField = errors.New("unknown parameter field")

// FieldValue is the editable state of one parameter.
type FieldValue struct {
	Kind types.ParamKind

	// Text carries the widget text for string, enum, number, array and
	// object kinds. Arrays render one element per line; objects render
	// pretty-printed JSON.
	Text string

	// Bool carries the boolean kind. nil means unset, so a tri-state
	// checkbox can distinguish "false" from "never touched".
	Bool *bool

	// JSONErr is set while an object or array value's text does not
	// parse; the panel shows it inline and Commit refuses the draft.
	JSONErr string
}

// Draft is the in-progress edit of one node's parameters. Edits stay
// in the draft until Commit; cancelling discards them without touching
// the graph.
type Draft struct {
	fields map[string]types.ParamField
	order  []string
	values map[string]*FieldValue
}

// NewDraft decodes the node's current params into editable values.
// Params without a matching field are preserved verbatim on commit.
func NewDraft(fields []types.ParamField, params map[string]json.RawMessage) *Draft {
	d := &Draft{
		fields: make(map[string]types.ParamField, len(fields)),
		values: make(map[string]*FieldValue, len(fields)),
	}
	for _, f := range fields {
		d.fields[f.Key] = f
		d.order = append(d.order, f.Key)
		d.values[f.Key] = decodeField(f, params[f.Key])
	}

	// Keys present in params but not in the schema ride along
	// untouched so committing never drops data.
	for k, raw := range params {
		if _, known := d.fields[k]; !known {
			d.values[k] = &FieldValue{Kind: "", Text: string(raw)}
			d.order = append(d.order, k)
		}
	}
	return d
}

// Keys returns field keys in declaration order, unknown extras last.
func (d *Draft) Keys() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Value returns the editable state for a key.
func (d *Draft) Value(key string) (*FieldValue, bool) {
	v, ok := d.values[key]
	return v, ok
}

// SetText updates the widget text for a key. Object and array kinds
// re-check JSON syntax immediately so the panel can flag errors while
// typing rather than at commit time.
func (d *Draft) SetText(key, text string) error {
	f, ok := d.fields[key]
	if !ok {
		return ErrUnknownField
	}
	v := d.values[key]
	v.Text = text
	v.JSONErr = ""

	switch f.Kind {
	case types.ParamObject:
		if strings.TrimSpace(text) == "" {
			return nil
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			v.JSONErr = fmt.Sprintf("not a JSON object: %v", err)
		}
	case types.ParamArray:
		// Arrays accept either a JSON array or plain lines, so there
		// is nothing to flag here.
	}
	return nil
}

// SetBool updates a boolean field.
func (d *Draft) SetBool(key string, val bool) error {
	f, ok := d.fields[key]
	if !ok {
		return ErrUnknownField
	}
	if f.Kind != types.ParamBoolean {
		return fmt.Errorf("field %q is %s, not boolean", key, f.Kind)
	}
	b := val
	d.values[key].Bool = &b
	return nil
}

// Clear unsets a field so it is omitted from the committed bag.
func (d *Draft) Clear(key string) error {
	f, ok := d.fields[key]
	if !ok {
		return ErrUnknownField
	}
	d.values[key] = &FieldValue{Kind: f.Kind}
	return nil
}

// Commit encodes the draft back into a parameter bag. It fails if any
// object field holds unparseable JSON; everything else round-trips.
// Values never edited re-encode to exactly what was decoded.
func (d *Draft) Commit() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(d.values))
	for key, v := range d.values {
		f, known := d.fields[key]
		if !known {
			// Pass-through of schema-less params.
			if strings.TrimSpace(v.Text) != "" {
				out[key] = json.RawMessage(v.Text)
			}
			continue
		}
		raw, err := encodeField(f, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if raw != nil {
			out[key] = raw
		}
	}
	return out, nil
}

func decodeField(f types.ParamField, raw json.RawMessage) *FieldValue {
	v := &FieldValue{Kind: f.Kind}
	if len(raw) == 0 {
		return v
	}

	switch f.Kind {
	case types.ParamString, types.ParamEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			v.Text = s
		} else {
			v.Text = string(raw)
		}
	case types.ParamNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			v.Text = formatNumber(n)
		} else {
			v.Text = string(raw)
		}
	case types.ParamBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			v.Bool = &b
		}
	case types.ParamArray:
		var items []interface{}
		if err := json.Unmarshal(raw, &items); err != nil {
			v.Text = string(raw)
			break
		}
		lines := make([]string, 0, len(items))
		allStrings := true
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				allStrings = false
				break
			}
			lines = append(lines, s)
		}
		if allStrings {
			v.Text = strings.Join(lines, "\n")
		} else {
			v.Text = string(raw)
		}
	case types.ParamObject:
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err == nil {
			v.Text = buf.String()
		} else {
			v.Text = string(raw)
		}
	default:
		v.Text = string(raw)
	}
	return v
}

func encodeField(f types.ParamField, v *FieldValue) (json.RawMessage, error) {
	switch f.Kind {
	case types.ParamString, types.ParamEnum:
		if v.Text == "" {
			return nil, nil
		}
		return json.Marshal(v.Text)

	case types.ParamNumber:
		text := strings.TrimSpace(v.Text)
		if text == "" {
			return nil, nil
		}
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v.Text)
		}
		return json.RawMessage(formatNumber(n)), nil

	case types.ParamBoolean:
		if v.Bool == nil {
			return nil, nil
		}
		return json.Marshal(*v.Bool)

	case types.ParamArray:
		text := strings.TrimSpace(v.Text)
		if text == "" {
			return nil, nil
		}
		// A value that parses as a JSON array wins; otherwise each
		// non-empty line becomes a string element.
		if strings.HasPrefix(text, "[") {
			var items []interface{}
			if err := json.Unmarshal([]byte(text), &items); err == nil {
				return json.RawMessage(text), nil
			}
		}
		var lines []string
		for _, line := range strings.Split(v.Text, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				lines = append(lines, trimmed)
			}
		}
		return json.Marshal(lines)

	case types.ParamObject:
		text := strings.TrimSpace(v.Text)
		if text == "" {
			return nil, nil
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("not a JSON object: %v", err)
		}
		// Re-compact so stored params stay one-line.
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(text)); err != nil {
			return nil, err
		}
		return json.RawMessage(buf.Bytes()), nil

	default:
		if v.Text == "" {
			return nil, nil
		}
		return json.RawMessage(v.Text), nil
	}
}

// formatNumber renders integers without a trailing ".0".
func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Sorted helper used by the panel to list pass-through extras.
func (d *Draft) ExtraKeys() []string {
	var out []string
	for k := range d.values {
		if _, known := d.fields[k]; !known {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
