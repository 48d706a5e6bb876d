package schema

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyValue       = errors.New("empty value")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidNumber    = errors.New("invalid number")
)

// TimestampFormat pairs a Go layout with the DuckDB rendition of the same
// format, so both engines accept exactly the same timestamp strings.
// Zoned layouts have no strptime form; DuckDB reads them with a cast gated
// by ZonedPattern.
type TimestampFormat struct {
	Layout   string
	Strptime string
}

// ZonedPattern matches the strings accepted by the zoned layouts.
const ZonedPattern = `\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d{1,9})?(Z|[+-]\d{2}:\d{2})`

// TimestampFormats is ordered by likelihood. Layouts without a zone are
// read as UTC.
var TimestampFormats = []TimestampFormat{
	{Layout: "2006-01-02 15:04:05", Strptime: "%Y-%m-%d %H:%M:%S"},
	{Layout: "2006-01-02T15:04:05", Strptime: "%Y-%m-%dT%H:%M:%S"},
	{Layout: "2006-01-02 15:04:05.999999999", Strptime: "%Y-%m-%d %H:%M:%S.%f"},
	{Layout: "2006-01-02T15:04:05.999999999", Strptime: "%Y-%m-%dT%H:%M:%S.%f"},
	{Layout: time.RFC3339},
	{Layout: time.RFC3339Nano},
	{Layout: "2006-01-02 15:04:05Z07:00"},
	{Layout: "01/02/2006 03:04:05 PM", Strptime: "%m/%d/%Y %I:%M:%S %p"},
	{Layout: "01/02/2006 15:04:05", Strptime: "%m/%d/%Y %H:%M:%S"},
	{Layout: "2006/01/02 15:04:05", Strptime: "%Y/%m/%d %H:%M:%S"},
	{Layout: "2006-01-02 15:04", Strptime: "%Y-%m-%d %H:%M"},
}

// ParseTimestamp parses a pickup or dropoff value.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyValue
	}

	if t, ok := parseISOFast(s); ok {
		return t, nil
	}

	for _, f := range TimestampFormats {
		if t, err := time.Parse(f.Layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

// parseISOFast handles "YYYY-MM-DD HH:MM:SS" and the T-separated form with
// direct digit arithmetic.
func parseISOFast(s string) (time.Time, bool) {
	if len(s) != 19 || s[4] != '-' || s[7] != '-' || (s[10] != ' ' && s[10] != 'T') || s[13] != ':' || s[16] != ':' {
		return time.Time{}, false
	}
	year := digits(s[0:4])
	month := digits(s[5:7])
	day := digits(s[8:10])
	hour := digits(s[11:13])
	minute := digits(s[14:16])
	second := digits(s[17:19])
	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	// time.Date normalises 2024-02-31 into March; reject instead.
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func digits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// ParseFloat parses a distance or amount value. NaN and infinities are
// rejected since they cannot be represented in the JSON artifacts.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyValue
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrInvalidNumber
	}
	return f, nil
}
