package model

import (
	"strings"
	"time"
)

// LocalTime 以 "YYYY-MM-DD HH:MM:SS"（本地时区）格式序列化时间。
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

func (t LocalTime) String() string {
	return time.Time(t).Local().Format(timeFormat)
}

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = LocalTime(time.Time{})
		return nil
	}
	parsed, err := ParseLocalTime(s)
	if err != nil {
		return err
	}
	*t = LocalTime(parsed)
	return nil
}

// ParseLocalTime 解析 "YYYY-MM-DD HH:MM:SS" 或 RFC3339 格式的时间。
func ParseLocalTime(s string) (time.Time, error) {
	if ts, err := time.ParseInLocation(timeFormat, s, time.Local); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, s)
}
