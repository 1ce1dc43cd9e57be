package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusNotCalculated Status = "not_calculated"
	StatusFinished      Status = "finished"
	StatusError         Status = "error"
)

// ErrBackwardTransition is returned when a terminal record would change status.
var ErrBackwardTransition = errors.New("job: record status only moves forward")

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotCalculated, StatusFinished, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is finished or error.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

var reservedKeys = map[string]struct{}{
	"key":              {},
	"calculation_type": {},
	"grouping":         {},
	"status":           {},
	"error_message":    {},
}

// Record is the structured outcome of a job. Result fields are flattened next
// to the reserved keys when encoded.
type Record struct {
	Key          string
	Type         string
	Grouping     string
	Status       Status
	ErrorMessage string
	Fields       map[string]any
}

// NewRecord returns a not_calculated record for a job.
func NewRecord(key, calcType, grouping string) Record {
	return Record{
		Key:      key,
		Type:     calcType,
		Grouping: grouping,
		Status:   StatusNotCalculated,
	}
}

// Terminal reports whether the record reached finished or error.
func (r Record) Terminal() bool {
	return r.Status.Terminal()
}

// Transition moves the record to a new status, refusing to leave a terminal one.
func (r *Record) Transition(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("job: unknown status %q", to)
	}
	from := r.Status
	if from == "" {
		from = StatusNotCalculated
	}
	if from == to {
		r.Status = to
		return nil
	}
	if from.Terminal() || to == StatusNotCalculated {
		return fmt.Errorf("%w: %s -> %s for %s", ErrBackwardTransition, from, to, r.Key)
	}
	r.Status = to
	return nil
}

// Finish marks the record finished and merges result fields. Reserved keys in
// fields are ignored.
func (r *Record) Finish(fields map[string]any) error {
	if err := r.Transition(StatusFinished); err != nil {
		return err
	}
	r.ErrorMessage = ""
	for k, v := range fields {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		if r.Fields == nil {
			r.Fields = map[string]any{}
		}
		r.Fields[k] = v
	}
	return nil
}

// Fail marks the record as error with the given diagnostic.
func (r *Record) Fail(message string) error {
	if err := r.Transition(StatusError); err != nil {
		return err
	}
	r.ErrorMessage = message
	return nil
}

// Clone returns a deep-enough copy (top-level fields map duplicated).
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// MarshalJSON flattens the record into a single object. encoding/json sorts
// map keys, so the same record always encodes to the same bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		out[k] = v
	}
	status := r.Status
	if status == "" {
		status = StatusNotCalculated
	}
	out["key"] = r.Key
	out["calculation_type"] = r.Type
	out["status"] = string(status)
	if r.Grouping != "" {
		out["grouping"] = r.Grouping
	}
	if r.ErrorMessage != "" {
		out["error_message"] = r.ErrorMessage
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := Record{Status: StatusNotCalculated}
	for k, v := range raw {
		switch k {
		case "key":
			rec.Key = stringValue(v)
		case "calculation_type":
			rec.Type = stringValue(v)
		case "grouping":
			rec.Grouping = stringValue(v)
		case "error_message":
			rec.ErrorMessage = stringValue(v)
		case "status":
			if s := Status(stringValue(v)); s != "" {
				rec.Status = s
			}
		default:
			if rec.Fields == nil {
				rec.Fields = map[string]any{}
			}
			rec.Fields[k] = v
		}
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("job: record %q has unknown status %q", rec.Key, rec.Status)
	}
	*r = rec
	return nil
}

// ParseRecord decodes a record file.
func ParseRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("job: parse record: %w", err)
	}
	return rec, nil
}

// EncodeRecord renders a record the way it is stored on disk.
func EncodeRecord(rec Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("job: encode record %s: %w", rec.Key, err)
	}
	return append(data, '\n'), nil
}

func (r Record) withIdentity(key, calcType, grouping string) Record {
	r.Key = key
	if r.Type == "" {
		r.Type = calcType
	}
	if r.Grouping == "" {
		r.Grouping = grouping
	}
	return r
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
