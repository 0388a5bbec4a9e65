package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"metaui/internal/util/jsonutil"
)

// TypedValue carries exactly one value* field.
type TypedValue struct {
	ValueString  *string        `json:"valueString,omitempty"`
	ValueNumber  *float64       `json:"valueNumber,omitempty"`
	ValueBoolean *bool          `json:"valueBoolean,omitempty"`
	ValueNull    *bool          `json:"valueNull,omitempty"`
	ValueList    []TypedValue   `json:"valueList,omitempty"`
	ValueMap     []ContentEntry `json:"valueMap,omitempty"`
}

// ContentEntry is a keyed TypedValue inside updateDataModel.contents.
type ContentEntry struct {
	Key string `json:"key"`
	TypedValue
}

// MarshalJSON emits only the active value* field so empty lists and maps
// survive the round trip.
func (v TypedValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.fields())
}

func (v TypedValue) fields() map[string]any {
	out := map[string]any{}
	switch {
	case v.ValueString != nil:
		out["valueString"] = *v.ValueString
	case v.ValueNumber != nil:
		out["valueNumber"] = *v.ValueNumber
	case v.ValueBoolean != nil:
		out["valueBoolean"] = *v.ValueBoolean
	case v.ValueList != nil:
		out["valueList"] = v.ValueList
	case v.ValueMap != nil:
		out["valueMap"] = v.ValueMap
	default:
		out["valueNull"] = true
	}
	return out
}

func (e ContentEntry) MarshalJSON() ([]byte, error) {
	out := e.TypedValue.fields()
	out["key"] = e.Key
	return json.Marshal(out)
}

// Decode converts the typed value into a plain JSON-like value.
func (v TypedValue) Decode() (any, error) {
	active := 0
	if v.ValueString != nil {
		active++
	}
	if v.ValueNumber != nil {
		active++
	}
	if v.ValueBoolean != nil {
		active++
	}
	if v.ValueNull != nil && *v.ValueNull {
		active++
	}
	if v.ValueList != nil {
		active++
	}
	if v.ValueMap != nil {
		active++
	}
	if active != 1 {
		return nil, errors.New("typed data value must contain exactly one value* field")
	}

	switch {
	case v.ValueString != nil:
		return *v.ValueString, nil
	case v.ValueNumber != nil:
		return *v.ValueNumber, nil
	case v.ValueBoolean != nil:
		return *v.ValueBoolean, nil
	case v.ValueList != nil:
		out := make([]any, 0, len(v.ValueList))
		for i, item := range v.ValueList {
			dv, err := item.Decode()
			if err != nil {
				return nil, fmt.Errorf("valueList[%d]: %w", i, err)
			}
			out = append(out, dv)
		}
		return out, nil
	case v.ValueMap != nil:
		return DecodeContents(v.ValueMap)
	default:
		return nil, nil
	}
}

// DecodeContents turns a typed key/value list into a mapping patch.
func DecodeContents(entries []ContentEntry) (map[string]any, error) {
	out := make(map[string]any, len(entries))
	for i, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			return nil, fmt.Errorf("contents[%d].key is required", i)
		}
		v, err := entry.Decode()
		if err != nil {
			return nil, fmt.Errorf("contents[%d] (%s): %w", i, key, err)
		}
		out[key] = v
	}
	return out, nil
}

// EncodeContents is the inverse of DecodeContents. Keys are emitted sorted.
func EncodeContents(m map[string]any) []ContentEntry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ContentEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, ContentEntry{Key: k, TypedValue: encodeTyped(m[k])})
	}
	return out
}

func encodeTyped(v any) TypedValue {
	switch x := v.(type) {
	case nil:
		t := true
		return TypedValue{ValueNull: &t}
	case bool:
		return TypedValue{ValueBoolean: &x}
	case string:
		return TypedValue{ValueString: &x}
	case map[string]any:
		return TypedValue{ValueMap: EncodeContents(x)}
	case []any:
		list := make([]TypedValue, 0, len(x))
		for _, item := range x {
			list = append(list, encodeTyped(item))
		}
		return TypedValue{ValueList: list}
	}
	if f, ok := jsonutil.Number(v); ok {
		return TypedValue{ValueNumber: &f}
	}
	s := jsonutil.Stringify(v)
	return TypedValue{ValueString: &s}
}
