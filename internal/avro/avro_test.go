package avro

import (
	"bytes"
	"io"
	"testing"

	goavro "github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/require"
)

const testSchema = `
{
  "type": "record",
  "name": "Envelope",
  "fields": [
    {"name": "key", "type": {
      "type": "record", "name": "Key",
      "fields": [
        {"name": "projectId", "type": "string"},
        {"name": "userId", "type": "string"},
        {"name": "sourceId", "type": "string"}
      ]
    }},
    {"name": "value", "type": {
      "type": "record", "name": "Value",
      "fields": [
        {"name": "time", "type": "long"},
        {"name": "reading", "type": "double"}
      ]
    }}
  ]
}`

func writeOCF(t *testing.T, datums []map[string]interface{}) []byte {
	t.Helper()
	codec, err := goavro.NewCodec(testSchema)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Codec: codec})
	require.NoError(t, err)

	for _, d := range datums {
		require.NoError(t, w.Append([]interface{}{d}))
	}

	return buf.Bytes()
}

type closeBuf struct{ *bytes.Reader }

func (closeBuf) Close() error { return nil }

func TestReaderDecodesKeyAndValue(t *testing.T) {
	data := writeOCF(t, []map[string]interface{}{
		{
			"key":   map[string]interface{}{"projectId": "radar", "userId": "u1", "sourceId": "s1"},
			"value": map[string]interface{}{"time": int64(123), "reading": 98.6},
		},
	})

	r, err := NewReader(closeBuf{bytes.NewReader(data)})
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "radar", rec.Key["projectId"])
	require.Equal(t, "u1", rec.Key["userId"])
	require.Equal(t, int64(123), rec.Value["time"])

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderMultipleRecords(t *testing.T) {
	data := writeOCF(t, []map[string]interface{}{
		{
			"key":   map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"},
			"value": map[string]interface{}{"time": int64(1), "reading": 1.0},
		},
		{
			"key":   map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"},
			"value": map[string]interface{}{"time": int64(2), "reading": 2.0},
		},
	})

	r, err := NewReader(closeBuf{bytes.NewReader(data)})
	require.NoError(t, err)
	defer r.Close()

	count := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	require.Equal(t, 2, count)
}
