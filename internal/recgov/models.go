package recgov

import "encoding/json"

// AvailabilityResponse is the body returned by the permit availability
// endpoint for one park and date range
type AvailabilityResponse struct {
	// Payload maps "YYYY-MM-DD" → trail id (as string) → counts
	Payload map[string]map[string]TrailAvailability `json:"payload"`
}

// TrailAvailability holds the permit count of one trail on one day.
// Entries that are empty, null or carry a non-integer count decode without
// error but report Valid() == false, so one bad trail never spoils a window.
type TrailAvailability struct {
	Remaining int `json:"remaining"`
	invalid   bool
}

// Valid reports whether the entry carried a usable remaining count
func (t TrailAvailability) Valid() bool {
	return !t.invalid
}

// UnmarshalJSON decodes an entry leniently
func (t *TrailAvailability) UnmarshalJSON(data []byte) error {
	*t = TrailAvailability{invalid: true}

	var fields struct {
		Remaining *json.Number `json:"remaining"`
	}
	if err := json.Unmarshal(data, &fields); err != nil || fields.Remaining == nil {
		return nil
	}
	remaining, err := fields.Remaining.Int64()
	if err != nil {
		return nil
	}

	t.Remaining = int(remaining)
	t.invalid = false
	return nil
}

// Days returns the number of dates present in the payload
func (r *AvailabilityResponse) Days() int {
	if r == nil {
		return 0
	}
	return len(r.Payload)
}
