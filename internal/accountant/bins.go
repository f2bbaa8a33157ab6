package accountant

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/grafana/restructure/internal/offsetrange"
)

var binsHeader = []string{"topic", "device", "category", "time", "count"}

// marshalOffsets renders the OffsetRangeSet as offsets.csv bytes.
func marshalOffsets(set *offsetrange.Set) ([]byte, error) {
	var buf bytes.Buffer
	if err := offsetrange.WriteCSV(&buf, set); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readBinsCSV(r io.Reader) (map[BinKey]int64, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("accountant: read bins csv: %w", err)
	}

	out := make(map[BinKey]int64)
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "topic" {
			continue
		}
		if len(row) != 5 {
			return nil, fmt.Errorf("accountant: malformed bins row: %v", row)
		}
		count, err := strconv.ParseInt(row[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("accountant: parse count: %w", err)
		}
		// device (row[1]) is carried for wire compatibility with the
		// upstream bins.csv layout but is not part of the in-memory key;
		// category plus time bucket is sufficient to identify a bucket
		// within a topic.
		out[BinKey{Topic: row[0], Category: row[2], TimeBucket: row[3]}] = count
	}
	return out, nil
}

func marshalBins(bins map[BinKey]int64) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(binsHeader); err != nil {
		return nil, err
	}
	for k, count := range bins {
		row := []string{k.Topic, "", k.Category, k.TimeBucket, strconv.FormatInt(count, 10)}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
