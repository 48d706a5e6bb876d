// Package model defines core data structures for taxiflow.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TripRecord is one row of the raw dataset projected to the required columns.
// A field whose OK flag is false could not be parsed and must not be used.
type TripRecord struct {
	// Row is the 1-based data row number in the source file (header excluded).
	Row int64

	PickupAt  time.Time
	DropoffAt time.Time
	Distance  float64
	Amount    float64

	PickupOK   bool
	DropoffOK  bool
	DistanceOK bool
	AmountOK   bool
}

// Aggregatable reports whether the record can contribute to an hourly summary.
func (r *TripRecord) Aggregatable() bool {
	return r.PickupOK && r.DistanceOK && r.AmountOK
}

// PickupHour returns the hour-of-day (0-23) of the pickup timestamp in UTC.
func (r *TripRecord) PickupHour() int {
	return r.PickupAt.UTC().Hour()
}

// Field is a single named value in a SampleRow.
type Field struct {
	Name  string
	Value interface{}
}

// SampleRow is an ordered record written to the Trip Sample Artifact.
// Keys are emitted in the order the fields were appended.
type SampleRow []Field

// MarshalJSON encodes the row as a JSON object preserving field order.
func (r SampleRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object into a row. Key order follows the input.
func (r *SampleRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sample row: expected JSON object")
	}

	row := SampleRow{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return err
		}
		row = append(row, Field{Name: key, Value: value})
	}
	*r = row
	return nil
}

// Get returns the value for name, if present.
func (r SampleRow) Get(name string) (interface{}, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in order.
func (r SampleRow) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// HourlySummary is one record of the Summary Artifact.
type HourlySummary struct {
	PickupHour  int     `json:"pickup_hour"`
	AvgDistance float64 `json:"avg_distance"`
	AvgAmount   float64 `json:"avg_amount"`
	TotalTrips  int64   `json:"total_trips"`
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord describes a single pipeline run for the run ledger.
type RunRecord struct {
	ID        string     `json:"id"`
	InputPath string     `json:"input_path"`
	OutputDir string     `json:"output_dir"`
	Engine    string     `json:"engine"`
	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	RowsRead       int64 `json:"rows_read"`
	RowsAggregated int64 `json:"rows_aggregated"`
	RowsRejected   int64 `json:"rows_rejected"`
	SampleSize     int   `json:"sample_size"`
	HourCount      int   `json:"hour_count"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Duration returns the run duration, or zero while running.
func (r *RunRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
