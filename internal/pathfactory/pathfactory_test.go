package pathfactory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(nanos int64) Record {
	return Record{
		Key: map[string]interface{}{
			"projectId": "radar",
			"userId":    "u1",
			"sourceId":  "s1",
		},
		Value: map[string]interface{}{
			"time": nanos,
		},
	}
}

func TestOrganizeDerivesDeterministicPath(t *testing.T) {
	f := NewObservationKeyFactory("")
	nanos := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC).UnixNano()

	org, err := f.Organize("topic_a", sampleRecord(nanos), 0)
	require.NoError(t, err)
	assert.Equal(t, "topic_a/radar/u1/s1/20240101_00", org.Path)
	assert.Equal(t, "20240101_00", org.TimeBucket)
}

func TestOrganizeIsDeterministic(t *testing.T) {
	f := NewObservationKeyFactory("")
	nanos := time.Date(2024, 6, 15, 13, 5, 0, 0, time.UTC).UnixNano()
	rec := sampleRecord(nanos)

	a, err := f.Organize("t", rec, 0)
	require.NoError(t, err)
	b, err := f.Organize("t", rec, 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOrganizeAppendsSuffix(t *testing.T) {
	f := NewObservationKeyFactory("")
	nanos := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

	org, err := f.Organize("t", sampleRecord(nanos), 2)
	require.NoError(t, err)
	assert.Equal(t, "t/radar/u1/s1/20240101_00.2", org.Path)
}

func TestOrganizeMissingKeyField(t *testing.T) {
	f := NewObservationKeyFactory("")
	rec := sampleRecord(0)
	delete(rec.Key, "sourceId")

	_, err := f.Organize("t", rec, 0)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestOrganizeMissingTimeField(t *testing.T) {
	f := NewObservationKeyFactory("")
	rec := sampleRecord(0)
	delete(rec.Value, "time")

	_, err := f.Organize("t", rec, 0)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestOrganizeCustomTimeField(t *testing.T) {
	f := NewObservationKeyFactory("timeReceived")
	nanos := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC).UnixNano()
	rec := Record{
		Key:   map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"},
		Value: map[string]interface{}{"timeReceived": nanos},
	}

	org, err := f.Organize("t", rec, 0)
	require.NoError(t, err)
	assert.Equal(t, "20240302_10", org.TimeBucket)
}
