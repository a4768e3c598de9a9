package utils

import (
	"encoding/json"
	"time"
)

// ISOTime is a millisecond epoch timestamp that marshals as an ISO-8601 UTC
// string. Internal comparisons stay numeric so hot paths never reparse
// timestamps; only the wire format is textual.
type ISOTime int64

// ISONow returns the current time as an ISOTime
func ISONow() ISOTime {
	return ISOTime(time.Now().UnixMilli())
}

// Ms returns the epoch milliseconds value
func (t ISOTime) Ms() int64 {
	return int64(t)
}

// IsZero reports whether the timestamp is unset
func (t ISOTime) IsZero() bool {
	return t == 0
}

// Time converts to a time.Time in UTC
func (t ISOTime) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// String returns the ISO-8601 representation
func (t ISOTime) String() string {
	if t == 0 {
		return ""
	}
	return t.Time().Format("2006-01-02T15:04:05.000Z")
}

// MarshalJSON implements json.Marshaler
func (t ISOTime) MarshalJSON() ([]byte, error) {
	if t == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler. Accepts an ISO-8601 string, an
// epoch-milliseconds number, or null.
func (t *ISOTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = 0
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*t = 0
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return err
			}
		}
		*t = ISOTime(parsed.UnixMilli())
		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*t = ISOTime(ms)
	return nil
}
