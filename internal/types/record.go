package types

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ValueKind identifies which variant a FieldValue holds
type ValueKind int

const (
	// KindAbsent is the zero value: the field is not present in the record
	KindAbsent ValueKind = iota
	// KindNull is a field explicitly set to nothing
	KindNull
	KindText
	KindNumber
	KindBool
	KindTime
	// KindNested is a relationship reference holding another record
	KindNested
)

// TimeLayout is the ISO-8601 form timestamps are rendered in
const TimeLayout = time.RFC3339

// FieldValue is one field of a Record. The zero value is "absent", which is
// distinct from both Null and an empty Text.
type FieldValue struct {
	kind   ValueKind
	text   string
	b      bool
	t      time.Time
	nested *Record
}

// Absent returns the absent sentinel
func Absent() FieldValue { return FieldValue{} }

// Null returns an explicit null value
func Null() FieldValue { return FieldValue{kind: KindNull} }

// Text returns a text value
func Text(s string) FieldValue { return FieldValue{kind: KindText, text: s} }

// Int returns a numeric value
func Int(n int64) FieldValue {
	return FieldValue{kind: KindNumber, text: strconv.FormatInt(n, 10)}
}

// Float returns a numeric value rendered in its shortest exact form
func Float(f float64) FieldValue {
	return FieldValue{kind: KindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Bool returns a boolean value
func Bool(b bool) FieldValue { return FieldValue{kind: KindBool, b: b} }

// Time returns a timestamp value
func Time(t time.Time) FieldValue { return FieldValue{kind: KindTime, t: t} }

// Nested returns a relationship reference. A nil record is treated as absent.
func Nested(r *Record) FieldValue {
	if r == nil {
		return Absent()
	}
	return FieldValue{kind: KindNested, nested: r}
}

// Kind returns the variant held by the value
func (v FieldValue) Kind() ValueKind { return v.kind }

// IsAbsent reports whether the field is missing from its record
func (v FieldValue) IsAbsent() bool { return v.kind == KindAbsent }

// IsNested reports whether the value is a relationship reference
func (v FieldValue) IsNested() bool { return v.kind == KindNested }

// Record returns the nested record, or nil for non-nested values
func (v FieldValue) Record() *Record { return v.nested }

// Time returns the timestamp held by a KindTime value
func (v FieldValue) Time() time.Time { return v.t }

// String renders the scalar text form of the value. Absent and null
// values render as the empty string.
func (v FieldValue) String() string {
	switch v.kind {
	case KindText, KindNumber:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(TimeLayout)
	case KindNested:
		return fmt.Sprintf("%v", v.nested.Fields())
	default:
		return ""
	}
}

// IsEmpty reports whether the value carries no text: absent, null, or empty text
func (v FieldValue) IsEmpty() bool {
	switch v.kind {
	case KindAbsent, KindNull:
		return true
	case KindNested:
		return false
	default:
		return v.String() == ""
	}
}

// Interface converts the value into plain Go data, mainly for JSON output.
// Absent and null become nil.
func (v FieldValue) Interface() interface{} {
	switch v.kind {
	case KindText, KindNumber:
		return v.text
	case KindBool:
		return v.b
	case KindTime:
		return v.t.Format(TimeLayout)
	case KindNested:
		return v.nested.Map()
	default:
		return nil
	}
}

// ValueOf converts plain Go data into a FieldValue
func ValueOf(x interface{}) (FieldValue, error) {
	switch val := x.(type) {
	case nil:
		return Null(), nil
	case FieldValue:
		return val, nil
	case string:
		return Text(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint:
		return FieldValue{kind: KindNumber, text: strconv.FormatUint(uint64(val), 10)}, nil
	case uint64:
		return FieldValue{kind: KindNumber, text: strconv.FormatUint(val, 10)}, nil
	case float32:
		return Float(float64(val)), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time(val), nil
	case *time.Time:
		if val == nil {
			return Null(), nil
		}
		return Time(*val), nil
	case *Record:
		return Nested(val), nil
	case Record:
		return Nested(&val), nil
	case map[string]interface{}:
		rec, err := RecordFromMap(val)
		if err != nil {
			return FieldValue{}, err
		}
		return Nested(rec), nil
	case fmt.Stringer:
		return Text(val.String()), nil
	default:
		return FieldValue{}, fmt.Errorf("unsupported field value type %T", x)
	}
}

// Record is an ordered mapping from field name to FieldValue
type Record struct {
	keys   []string
	values map[string]FieldValue
}

// NewRecord creates an empty record
func NewRecord() *Record {
	return &Record{values: make(map[string]FieldValue)}
}

// Set assigns a field, keeping the position of an existing field. Setting a
// field to Absent removes it.
func (r *Record) Set(name string, v FieldValue) *Record {
	if r.values == nil {
		r.values = make(map[string]FieldValue)
	}
	if v.IsAbsent() {
		r.Delete(name)
		return r
	}
	if _, ok := r.values[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.values[name] = v
	return r
}

// Get returns the value of a field, or Absent if it is not present
func (r *Record) Get(name string) FieldValue {
	if r == nil || r.values == nil {
		return Absent()
	}
	return r.values[name]
}

// Has reports whether the field is present
func (r *Record) Has(name string) bool {
	if r == nil || r.values == nil {
		return false
	}
	_, ok := r.values[name]
	return ok
}

// Delete removes a field
func (r *Record) Delete(name string) {
	if !r.Has(name) {
		return
	}
	delete(r.values, name)
	for i, k := range r.keys {
		if k == name {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Fields returns the field names in insertion order
func (r *Record) Fields() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of present fields
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Map converts the record into plain Go data
func (r *Record) Map() map[string]interface{} {
	out := make(map[string]interface{}, r.Len())
	for _, k := range r.Fields() {
		out[k] = r.values[k].Interface()
	}
	return out
}

// RecordFromMap builds a record from a Go map. Go maps carry no order, so
// fields are added in sorted key order to keep the result deterministic.
func RecordFromMap(m map[string]interface{}) (*Record, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := NewRecord()
	for _, k := range keys {
		v, err := ValueOf(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		// nil map entries are explicit nulls, not absent fields
		if v.IsAbsent() {
			v = Null()
		}
		rec.Set(k, v)
	}
	return rec, nil
}
