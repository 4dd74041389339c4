package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/arrowarc/parquetsync/internal/ident"
)

func TestToPairsFromPairsRoundTrip(t *testing.T) {
	r := Record{
		"title": "hello",
		"count": int32(3),
		"nested": Record{
			"inner": "value",
		},
		"list": []any{int32(1), int32(2)},
	}

	pairs := ToPairs(r)
	back := FromPairs(pairs)

	assert.Equal(t, "hello", back["title"])
	assert.Equal(t, int32(3), back["count"])
	nested, ok := back["nested"].(Record)
	require.True(t, ok)
	assert.Equal(t, "value", nested["inner"])
}

func TestToPairsEncodesIdentifiersAsObjectIDs(t *testing.T) {
	const hex24 = "64bb7ea337b9d8195e3b441d"
	id, err := ident.FromHex(hex24)
	require.NoError(t, err)

	pairs := ToPairs(Record{"_id": id})
	require.Len(t, pairs, 1)
	oid, ok := pairs[0].Value.(bson.ObjectID)
	require.True(t, ok, "identifiers must wire-encode as ObjectID, not binary")
	assert.Equal(t, hex24, oid.Hex())
}

func TestFromPairsDecodesDriverTypes(t *testing.T) {
	const hex24 = "64bb7ea337b9d8195e3b441d"
	oid, err := bson.ObjectIDFromHex(hex24)
	require.NoError(t, err)
	when := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	r := FromPairs(bson.D{
		{Key: "_id", Value: oid},
		{Key: "date", Value: bson.NewDateTimeFromTime(when)},
		{Key: "tasks", Value: bson.A{oid}},
	})

	id, ok := r["_id"].(ident.ID)
	require.True(t, ok)
	assert.Equal(t, hex24, id.Hex())
	assert.Equal(t, when, r["date"])
	tasks := r["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, hex24, tasks[0].(ident.ID).Hex())
}

func TestApplyDefaultsSubstitutesNullsAndDropsOthers(t *testing.T) {
	r := Record{
		"tasks":   nil,
		"title":   nil,
		"present": "x",
	}
	defaults := map[string]any{
		"tasks": []any{},
	}

	out := ApplyDefaults(r, defaults)

	assert.Equal(t, []any{}, out["tasks"])
	_, hasTitle := out["title"]
	assert.False(t, hasTitle, "null field without a default must be dropped")
	assert.Equal(t, "x", out["present"])
}

func TestApplyDefaultsFillsAbsentFields(t *testing.T) {
	out := ApplyDefaults(Record{}, map[string]any{"owners": []any{}})
	assert.Equal(t, []any{}, out["owners"])
}

func TestApplyDefaultsDoesNotAliasDefaultAcrossRows(t *testing.T) {
	defaults := map[string]any{"tasks": []any{}}
	a := ApplyDefaults(Record{"tasks": nil}, defaults)
	b := ApplyDefaults(Record{"tasks": nil}, defaults)

	aSlice := a["tasks"].([]any)
	aSlice = append(aSlice, "mutated")
	a["tasks"] = aSlice

	assert.Empty(t, b["tasks"], "mutating one row's default must not affect another's")
}

func TestDecodeObjectIDFieldsTopLevel(t *testing.T) {
	const hex24 = "64bb7ea337b9d8195e3b441d"
	out, err := DecodeObjectIDFields(Record{"_id": hex24, "title": "x"}, []string{"_id"})
	require.NoError(t, err)

	id, ok := out["_id"].(ident.ID)
	require.True(t, ok)
	assert.Equal(t, hex24, id.Hex())
	assert.Equal(t, "x", out["title"])
}

func TestDecodeObjectIDFieldsNested(t *testing.T) {
	const hex24 = "64bb7ea337b9d8195e3b441d"
	r := Record{
		"task": Record{"_id": hex24},
		"ids":  []any{hex24, hex24},
	}
	out, err := DecodeObjectIDFields(r, []string{"_id", "ids"})
	require.NoError(t, err)

	task := out["task"].(Record)
	id := task["_id"].(ident.ID)
	assert.Equal(t, hex24, id.Hex())

	ids := out["ids"].([]any)
	require.Len(t, ids, 2)
	assert.Equal(t, hex24, ids[0].(ident.ID).Hex())
}
