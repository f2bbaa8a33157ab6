package format

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grafana/restructure/internal/record"
)

type jsonFactory struct{}

func (jsonFactory) Extension() string { return ".json" }

// ConverterFor writes newline-delimited JSON objects, one per record, each
// with "key" and "value" sub-objects. JSON has no fixed header so there is
// no schema to validate against an existing file: any prior content is kept
// as-is and new lines are simply appended.
func (jsonFactory) ConverterFor(w io.Writer, exampleRecord record.Record, isNew bool, existingReader io.Reader) (Converter, error) {
	return &jsonConverter{w: w}, nil
}

type jsonConverter struct {
	w io.Writer
}

type jsonLine struct {
	Key   map[string]interface{} `json:"key"`
	Value map[string]interface{} `json:"value"`
}

func (c *jsonConverter) WriteRecord(rec record.Record) (bool, error) {
	line, err := json.Marshal(jsonLine{Key: rec.Key, Value: rec.Value})
	if err != nil {
		return false, fmt.Errorf("format/json: marshal: %w", err)
	}
	line = append(line, '\n')
	if _, err := c.w.Write(line); err != nil {
		return false, fmt.Errorf("format/json: write: %w", err)
	}
	return true, nil
}

func (c *jsonConverter) Flush() error { return nil }

func (c *jsonConverter) Close() error { return nil }

// Deduplicate stable-sorts every line by distinctFields (resolved against
// the union of key/value fields when unspecified, ignoring ignoreFields),
// then removes adjacent duplicates, per §4.4's stable-sort-then-unique
// algorithm.
func (jsonFactory) Deduplicate(src io.Reader, dst io.Writer, distinctFields, ignoreFields []string) error {
	ignored := make(map[string]bool, len(ignoreFields))
	for _, f := range ignoreFields {
		ignored[f] = true
	}

	type line struct {
		raw []byte
		key string
	}

	var lines []line
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}

		var rec jsonLine
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("format/json: dedup unmarshal: %w", err)
		}

		fields := fieldSet(record.Record{Key: rec.Key, Value: rec.Value})
		keyFields := distinctFields
		if len(keyFields) == 0 {
			for _, f := range fields {
				if !ignored[f] {
					keyFields = append(keyFields, f)
				}
			}
		}

		var keyParts []string
		for _, f := range keyFields {
			keyParts = append(keyParts, fmt.Sprintf("%v", fieldValue(record.Record{Key: rec.Key, Value: rec.Value}, f)))
		}

		lines = append(lines, line{raw: append([]byte(nil), raw...), key: strings.Join(keyParts, "\x1f")})
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].key < lines[j].key })

	var lastKey string
	for i, l := range lines {
		if i > 0 && l.key == lastKey {
			continue
		}
		lastKey = l.key

		out := append(l.raw, '\n')
		if _, err := dst.Write(out); err != nil {
			return fmt.Errorf("format/json: dedup write: %w", err)
		}
	}
	return nil
}
