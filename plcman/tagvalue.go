package plcman

import "s7link/s7"

// TagValue is a snapshot of a tag's value from the last poll, plus the
// bookkeeping needed for change detection and display.
type TagValue struct {
	Name        string      // Tag address
	DataType    uint16      // s7 type code
	Value       interface{} // pre-computed Go value from GoValue()
	StableValue interface{} // value with ignored members removed, for change detection
	Bytes       []byte      // raw bytes, native byte order
	Count       int         // element count (1 for scalar)
	Error       error       // per-tag error, nil if successful
}

// GoValue returns the pre-computed Go value.
func (v *TagValue) GoValue() interface{} {
	if v.Error != nil {
		return nil
	}
	return v.Value
}

// TypeName returns the human-readable type name.
func (v *TagValue) TypeName() string {
	return s7.TypeName(v.DataType)
}

// FromS7TagValue converts an s7.TagValue into the manager's TagValue,
// pre-computing its Go value.
func FromS7TagValue(sv *s7.TagValue) *TagValue {
	if sv == nil {
		return nil
	}
	tv := &TagValue{
		Name:     sv.Name,
		DataType: sv.DataType,
		Bytes:    sv.Bytes,
		Count:    sv.Count,
		Error:    sv.Error,
	}
	if sv.Error == nil {
		tv.Value = sv.GoValue()
		tv.StableValue = tv.Value
	}
	return tv
}

// ComputeStableValue returns a copy of the value with ignored members removed.
// For map values (decoded structures), this filters out keys in the ignore list.
// For other value types, returns the value unchanged.
func ComputeStableValue(value interface{}, ignoreList []string) interface{} {
	if len(ignoreList) == 0 {
		return value
	}
	mapVal, ok := value.(map[string]interface{})
	if !ok {
		return value
	}
	ignoreSet := make(map[string]bool, len(ignoreList))
	for _, name := range ignoreList {
		ignoreSet[name] = true
	}
	filtered := make(map[string]interface{}, len(mapVal))
	for key, val := range mapVal {
		if !ignoreSet[key] {
			filtered[key] = val
		}
	}
	return filtered
}

// SetIgnoreList computes and sets the StableValue based on the ignore list.
func (v *TagValue) SetIgnoreList(ignoreList []string) {
	if v == nil {
		return
	}
	v.StableValue = ComputeStableValue(v.Value, ignoreList)
}
