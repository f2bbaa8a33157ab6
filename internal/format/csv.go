package format

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grafana/restructure/internal/record"
)

type csvFactory struct{}

func (csvFactory) Extension() string { return ".csv" }

func (csvFactory) ConverterFor(w io.Writer, exampleRecord record.Record, isNew bool, existingReader io.Reader) (Converter, error) {
	header := fieldSet(exampleRecord)

	if !isNew && existingReader != nil {
		existingHeader, err := readCSVHeader(existingReader)
		if err != nil {
			return nil, fmt.Errorf("format/csv: read existing header: %w", err)
		}
		if !sameFields(existingHeader, header) {
			return nil, ErrSchemaMismatch
		}
		if len(existingHeader) > 0 {
			header = existingHeader
		} else {
			isNew = true
		}
	}

	cw := csv.NewWriter(w)
	c := &csvConverter{w: cw, header: header}
	if isNew {
		if err := cw.Write(header); err != nil {
			return nil, fmt.Errorf("format/csv: write header: %w", err)
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readCSVHeader(r io.Reader) ([]string, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return header, nil
}

func sameFields(a, b []string) bool {
	if len(a) == 0 {
		// An empty/absent existing file has no established schema yet.
		return true
	}
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

type csvConverter struct {
	w      *csv.Writer
	header []string
}

func (c *csvConverter) WriteRecord(rec record.Record) (bool, error) {
	fields := fieldSet(rec)
	if !sameFields(fields, c.header) {
		return false, nil
	}

	row := make([]string, len(c.header))
	for i, field := range c.header {
		row[i] = fmt.Sprintf("%v", fieldValue(rec, field))
	}
	if err := c.w.Write(row); err != nil {
		return false, fmt.Errorf("format/csv: write row: %w", err)
	}
	return true, nil
}

func (c *csvConverter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

func (c *csvConverter) Close() error {
	return c.Flush()
}

// Deduplicate stable-sorts every row by distinctFields (skipping
// ignoreFields entirely when the key is unspecified), then removes
// adjacent duplicates, per §4.4's stable-sort-then-unique algorithm. The
// stable sort means that among rows sharing a key, the one that sorts
// first keeps its original relative position, and it is the row that
// survives.
func (csvFactory) Deduplicate(src io.Reader, dst io.Writer, distinctFields, ignoreFields []string) error {
	cr := csv.NewReader(bufio.NewReader(src))
	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("format/csv: dedup read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[h] = i
	}

	ignored := make(map[string]bool, len(ignoreFields))
	for _, f := range ignoreFields {
		ignored[f] = true
	}

	keyFields := distinctFields
	if len(keyFields) == 0 {
		for _, h := range header {
			if !ignored[h] {
				keyFields = append(keyFields, h)
			}
		}
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("format/csv: dedup read row: %w", err)
		}
		rows = append(rows, row)
	}

	rowKey := func(row []string) string {
		var keyParts []string
		for _, f := range keyFields {
			if idx, ok := colIndex[f]; ok && idx < len(row) {
				keyParts = append(keyParts, row[idx])
			}
		}
		return strings.Join(keyParts, "\x1f")
	}

	sort.SliceStable(rows, func(i, j int) bool { return rowKey(rows[i]) < rowKey(rows[j]) })

	cw := csv.NewWriter(dst)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("format/csv: dedup write header: %w", err)
	}

	var lastKey string
	for i, row := range rows {
		key := rowKey(row)
		if i > 0 && key == lastKey {
			continue
		}
		lastKey = key

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("format/csv: dedup write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
