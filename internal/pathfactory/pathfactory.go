// Package pathfactory derives the record-partitioned output location for a
// decoded record. It is a pure function of (topic, record, suffix): no I/O,
// no state.
package pathfactory

import (
	"fmt"
	"time"

	"github.com/grafana/restructure/internal/record"
)

// Record is the minimal view a RecordPathFactory needs of a decoded Avro
// record.
type Record = record.Record

// Organization is the deterministic routing decision for one record.
type Organization struct {
	// Path is the output path, not yet suffixed with format/compression
	// extension.
	Path string
	// TimeBucket is the hour bucket the record falls in, formatted
	// "yyyyMMdd_HH".
	TimeBucket string
	// Category groups records for Bin accounting (spec.md §3).
	Category string
}

// Factory derives an Organization for a record at a given schema-disambiguation
// suffix.
type Factory interface {
	// Organize returns the output path (without extension) and time bucket
	// for the given topic/record, with suffix appended if suffix > 0.
	Organize(topic string, rec Record, suffix int) (Organization, error)
}

// ErrMissingField is returned when a record lacks a field the strategy
// requires to build a path.
var ErrMissingField = fmt.Errorf("pathfactory: missing required field")

// ObservationKeyFactory is the default strategy described in spec.md §4.3:
// it extracts projectId/userId/sourceId from the record key and a
// nanosecond-since-epoch timestamp from the record value, producing
// "<topic>/<projectId>/<userId>/<sourceId>/<yyyyMMdd_HH>[.<suffix>]".
type ObservationKeyFactory struct {
	// TimeField names the value field holding nanoseconds since epoch.
	TimeField string
}

// NewObservationKeyFactory returns a Factory using the given value field as
// the record timestamp. An empty timeField defaults to "time".
func NewObservationKeyFactory(timeField string) *ObservationKeyFactory {
	if timeField == "" {
		timeField = "time"
	}
	return &ObservationKeyFactory{TimeField: timeField}
}

func stringField(m map[string]interface{}, field string) (string, error) {
	v, ok := m[field]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), nil
	}
	return s, nil
}

func nanosField(m map[string]interface{}, field string) (int64, error) {
	v, ok := m[field]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("pathfactory: field %s has unsupported type %T", field, v)
	}
}

// RecordTimestamp extracts the nanoseconds-since-epoch value of timeField
// from rec's value map, the same lookup Organize uses to derive the time
// bucket. Exposed for callers (the cleaner) that need to compare a
// record's raw timestamp against ones already observed in a target file.
func RecordTimestamp(rec Record, timeField string) (int64, error) {
	if timeField == "" {
		timeField = "time"
	}
	return nanosField(rec.Value, timeField)
}

// Organize implements Factory.
func (f *ObservationKeyFactory) Organize(topic string, rec Record, suffix int) (Organization, error) {
	projectID, err := stringField(rec.Key, "projectId")
	if err != nil {
		return Organization{}, err
	}
	userID, err := stringField(rec.Key, "userId")
	if err != nil {
		return Organization{}, err
	}
	sourceID, err := stringField(rec.Key, "sourceId")
	if err != nil {
		return Organization{}, err
	}

	nanos, err := nanosField(rec.Value, f.TimeField)
	if err != nil {
		return Organization{}, err
	}
	bucket := time.Unix(0, nanos).UTC().Format("20060102_15")

	path := fmt.Sprintf("%s/%s/%s/%s/%s", topic, projectID, userID, sourceID, bucket)
	if suffix > 0 {
		path = fmt.Sprintf("%s.%d", path, suffix)
	}

	return Organization{
		Path:       path,
		TimeBucket: bucket,
		Category:   topic,
	}, nil
}
