package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/restructure/internal/record"
)

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("xml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func sample(project, user string, reading float64) record.Record {
	return record.Record{
		Key:   map[string]interface{}{"projectId": project, "userId": user},
		Value: map[string]interface{}{"reading": reading},
	}
}

func TestCSVWritesHeaderAndRows(t *testing.T) {
	f, err := Lookup("csv")
	require.NoError(t, err)

	var buf bytes.Buffer
	rec := sample("p", "u", 1.5)
	conv, err := f.ConverterFor(&buf, rec, true, nil)
	require.NoError(t, err)

	ok, err := conv.WriteRecord(rec)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, conv.Close())

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "key.projectId,key.userId,value.reading", lines[0])
}

func TestCSVSchemaMismatchOnWrite(t *testing.T) {
	f, err := Lookup("csv")
	require.NoError(t, err)

	var buf bytes.Buffer
	rec := sample("p", "u", 1.5)
	conv, err := f.ConverterFor(&buf, rec, true, nil)
	require.NoError(t, err)

	other := record.Record{Key: map[string]interface{}{"different": "x"}}
	ok, err := conv.WriteRecord(other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCSVConverterForDetectsExistingSchemaMismatch(t *testing.T) {
	f, err := Lookup("csv")
	require.NoError(t, err)

	existing := strings.NewReader("key.other\nfoo\n")
	var buf bytes.Buffer
	_, err = f.ConverterFor(&buf, sample("p", "u", 1.0), false, existing)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestCSVDeduplicateStableSortThenUniqueByDistinctFields(t *testing.T) {
	f, err := Lookup("csv")
	require.NoError(t, err)

	// "q" arrives before "p" in the source, so a correct stable sort by
	// distinctFields must reorder the output, not merely preserve arrival
	// order with duplicates dropped.
	src := strings.NewReader("key.projectId,value.reading\nq,3\np,1\np,2\n")
	var dst bytes.Buffer
	require.NoError(t, f.Deduplicate(src, &dst, []string{"key.projectId"}, nil))

	lines := strings.Split(strings.TrimSpace(dst.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "p,1", lines[1], "stable sort keeps the first-arriving row among rows sharing a key")
	assert.Equal(t, "q,3", lines[2], "rows are reordered by distinctFields, not left in arrival order")
}

func TestJSONWritesNewlineDelimited(t *testing.T) {
	f, err := Lookup("json")
	require.NoError(t, err)

	var buf bytes.Buffer
	conv, err := f.ConverterFor(&buf, record.Record{}, true, nil)
	require.NoError(t, err)

	rec := sample("p", "u", 2.0)
	ok, err := conv.WriteRecord(rec)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, conv.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"projectId":"p"`)
}

func TestJSONDeduplicateStableSortThenUnique(t *testing.T) {
	f, err := Lookup("json")
	require.NoError(t, err)

	src := strings.NewReader(
		`{"key":{"projectId":"q"},"value":{"reading":3}}` + "\n" +
			`{"key":{"projectId":"p"},"value":{"reading":1}}` + "\n" +
			`{"key":{"projectId":"p"},"value":{"reading":2}}` + "\n",
	)
	var dst bytes.Buffer
	require.NoError(t, f.Deduplicate(src, &dst, []string{"key.projectId"}, nil))

	lines := strings.Split(strings.TrimSpace(dst.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"projectId":"p"`, "sorted by distinctFields, p before q")
	assert.Contains(t, lines[0], `"reading":1`, "stable sort keeps the first-arriving row among rows sharing a key")
	assert.Contains(t, lines[1], `"projectId":"q"`)
}
