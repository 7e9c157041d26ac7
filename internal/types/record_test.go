package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SetKeepsInsertionOrder(t *testing.T) {
	rec := NewRecord().
		Set("Name", Text("Acme")).
		Set("Industry", Text("Retail")).
		Set("Employees", Int(12))

	rec.Set("Name", Text("Acme Corp"))

	assert.Equal(t, []string{"Name", "Industry", "Employees"}, rec.Fields())
	assert.Equal(t, "Acme Corp", rec.Get("Name").String())
}

func TestRecord_AbsentIsDistinctFromNullAndEmpty(t *testing.T) {
	rec := NewRecord().
		Set("Empty", Text("")).
		Set("Nothing", Null())

	assert.True(t, rec.Get("Missing").IsAbsent())
	assert.False(t, rec.Has("Missing"))

	assert.False(t, rec.Get("Empty").IsAbsent())
	assert.Equal(t, KindText, rec.Get("Empty").Kind())
	assert.True(t, rec.Get("Empty").IsEmpty())

	assert.False(t, rec.Get("Nothing").IsAbsent())
	assert.Equal(t, KindNull, rec.Get("Nothing").Kind())
	assert.True(t, rec.Get("Nothing").IsEmpty())
}

func TestRecord_SetAbsentRemovesField(t *testing.T) {
	rec := NewRecord().Set("A", Text("1")).Set("B", Text("2"))
	rec.Set("A", Absent())

	assert.Equal(t, []string{"B"}, rec.Fields())
	assert.Equal(t, 1, rec.Len())
}

func TestFieldValue_String(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value FieldValue
		want  string
	}{
		{"text", Text("hello"), "hello"},
		{"int", Int(-42), "-42"},
		{"float", Float(3.25), "3.25"},
		{"bool", Bool(true), "true"},
		{"time", Time(ts), "2024-03-05T14:30:00Z"},
		{"null", Null(), ""},
		{"absent", Absent(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.value.String())
		})
	}
}

func TestRecordFromMap(t *testing.T) {
	rec, err := RecordFromMap(map[string]interface{}{
		"Zeta":  "z",
		"Alpha": 1,
		"Owner": map[string]interface{}{"Email": "a@example.com"},
		"Gone":  nil,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Alpha", "Gone", "Owner", "Zeta"}, rec.Fields())
	assert.Equal(t, KindNumber, rec.Get("Alpha").Kind())
	assert.Equal(t, KindNull, rec.Get("Gone").Kind())
	require.True(t, rec.Get("Owner").IsNested())
	assert.Equal(t, "a@example.com", rec.Get("Owner").Record().Get("Email").String())
}

func TestRecordFromMap_RejectsUnsupportedValues(t *testing.T) {
	_, err := RecordFromMap(map[string]interface{}{"Bad": []int{1, 2}})
	assert.Error(t, err)
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("upsert")
	require.NoError(t, err)
	assert.Equal(t, OperationUpsert, op)

	op, err = ParseOperation("create")
	require.NoError(t, err)
	assert.Equal(t, OperationInsert, op)

	_, err = ParseOperation("merge")
	assert.Error(t, err)
}

func TestBatchState_IsTerminal(t *testing.T) {
	assert.False(t, BatchStateQueued.IsTerminal())
	assert.False(t, BatchStateInProgress.IsTerminal())
	assert.False(t, BatchState("").IsTerminal())
	assert.True(t, BatchStateCompleted.IsTerminal())
	assert.True(t, BatchStateFailed.IsTerminal())
	assert.True(t, BatchStateNotProcessed.IsTerminal())
}
