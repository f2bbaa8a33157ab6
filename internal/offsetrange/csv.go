package offsetrange

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// csvHeader matches spec.md §6: "offsetFrom,offsetTo,partition,topic".
var csvHeader = []string{"offsetFrom", "offsetTo", "partition", "topic"}

// WriteCSV serialises every merged interval in s as one CSV row per
// interval, header first.
func WriteCSV(w io.Writer, s *Set) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range s.Ranges() {
		row := []string{
			strconv.FormatInt(r.From, 10),
			strconv.FormatInt(r.To, 10),
			strconv.FormatInt(int64(r.Partition), 10),
			r.Topic,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file written by WriteCSV into a fresh Set. Ranges are
// re-merged via Add, so a hand-edited file with overlapping rows is
// tolerated.
func ReadCSV(r io.Reader) (*Set, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("offsetrange: unexpected header %v", header)
	}

	set := New()
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) != 4 {
			return nil, fmt.Errorf("offsetrange: malformed row %v", row)
		}

		from, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("offsetrange: bad offsetFrom %q: %w", row[0], err)
		}
		to, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("offsetrange: bad offsetTo %q: %w", row[1], err)
		}
		partition, err := strconv.ParseInt(row[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("offsetrange: bad partition %q: %w", row[2], err)
		}

		set.Add(Range{
			TopicPartition: TopicPartition{Topic: row[3], Partition: int32(partition)},
			From:           from,
			To:             to,
		})
	}

	return set, nil
}
