package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityFromAPI(t *testing.T) {
	raw := json.RawMessage(`{
		"activityId": 12345678901,
		"activityName": "Morning Run in Central Park",
		"activityType": {"typeKey": "running"},
		"startTimeGMT": "2024-01-15 08:30:00",
		"hasPolyline": true,
		"distance": 8046.7
	}`)

	act, err := ActivityFromAPI(raw)
	require.NoError(t, err)

	assert.Equal(t, ActivityID(12345678901), act.ID)
	assert.Equal(t, "Morning Run in Central Park", act.Name)
	assert.Equal(t, "running", act.Type)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), act.StartTimeGMT)
	assert.True(t, act.HasPolyline)
	assert.JSONEq(t, string(raw), string(act.Raw), "raw payload must be kept untouched")
}

func TestActivityFromAPIMissingID(t *testing.T) {
	_, err := ActivityFromAPI(json.RawMessage(`{"activityName": "x", "startTimeGMT": "2024-01-15 08:30:00"}`))
	assert.Error(t, err)
}

func TestActivityFromAPIMissingStartTime(t *testing.T) {
	_, err := ActivityFromAPI(json.RawMessage(`{"activityId": 42, "activityName": "x"}`))
	assert.Error(t, err)
}

func TestActivityFromAPIBadStartTime(t *testing.T) {
	_, err := ActivityFromAPI(json.RawMessage(`{"activityId": 42, "startTimeGMT": "not a date"}`))
	assert.Error(t, err)
}

func TestActivityFromAPIMalformedJSON(t *testing.T) {
	_, err := ActivityFromAPI(json.RawMessage(`{`))
	assert.Error(t, err)
}

// Dump must be stable under field reordering: the same logical payload
// serialized in two key orders produces identical bytes.
func TestDumpCanonicalOrdering(t *testing.T) {
	a := Activity{ID: 1, Raw: json.RawMessage(`{"b": 2, "a": 1, "nested": {"y": true, "x": false}}`)}
	b := Activity{ID: 1, Raw: json.RawMessage(`{"nested": {"x": false, "y": true}, "a": 1, "b": 2}`)}

	dumpA, err := a.Dump()
	require.NoError(t, err)
	dumpB, err := b.Dump()
	require.NoError(t, err)

	assert.Equal(t, dumpA, dumpB)
}

func TestDumpMalformedRaw(t *testing.T) {
	a := Activity{ID: 7, Raw: json.RawMessage(`not json`)}
	_, err := a.Dump()
	assert.Error(t, err)
}

func TestActivityString(t *testing.T) {
	assert.Equal(t, "Activity 99", Activity{ID: 99}.String())
}
