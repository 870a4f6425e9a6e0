// Package codec implements the extended-JSON encoding used throughout the
// resource metadata documents: datetime and date values are tagged so
// they round-trip through JSON without falling back to RFC3339 strings
// that an ordinary json.Marshal would produce, and a file_md5 helper
// hashes archive payloads before they're pushed to the blob store.
package codec

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	typeDatetime = "datetime"
	typeDate     = "date"

	datetimeLayout = "2006-01-02 15:04:05.000000"
	dateLayout     = "2006-01-02"
)

// Time wraps time.Time so it encodes as a tagged {"_type":"datetime",...}
// document instead of RFC3339. Decode into this type, or into Date below,
// wherever a metadata field is a timestamp.
type Time struct {
	time.Time
}

// Date wraps a calendar date with no time-of-day component.
type Date struct {
	time.Time
}

// NewTime returns a Time converted to loc, rounded to microsecond
// precision the way the encoder expects.
func NewTime(t time.Time, loc *time.Location) Time {
	return Time{t.In(loc).Round(time.Microsecond)}
}

// NewDate returns a Date for the given y-m-d.
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())}
}

type taggedValue struct {
	Type  string `json:"_type"`
	Value string `json:"value"`
}

// MarshalJSON implements the datetime tagging described in §4.1.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: typeDatetime, Value: t.Time.Format(datetimeLayout)})
}

// UnmarshalJSON accepts either the tagged form or an absent value.
func (t *Time) UnmarshalJSON(b []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(b, &tv); err != nil {
		return err
	}
	if tv.Type != "" && tv.Type != typeDatetime {
		return fmt.Errorf("codec: expected _type=%q, got %q", typeDatetime, tv.Type)
	}
	parsed, err := time.Parse(datetimeLayout, tv.Value)
	if err != nil {
		return fmt.Errorf("codec: parsing datetime value %q: %w", tv.Value, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements the date tagging described in §4.1.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: typeDate, Value: d.Time.Format(dateLayout)})
}

// UnmarshalJSON accepts the tagged date form.
func (d *Date) UnmarshalJSON(b []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(b, &tv); err != nil {
		return err
	}
	if tv.Type != "" && tv.Type != typeDate {
		return fmt.Errorf("codec: expected _type=%q, got %q", typeDate, tv.Type)
	}
	parsed, err := time.Parse(dateLayout, tv.Value)
	if err != nil {
		return fmt.Errorf("codec: parsing date value %q: %w", tv.Value, err)
	}
	d.Time = parsed
	return nil
}

// Encode marshals v with two-space indentation, matching the pretty
// metadata documents the Python source produced for human inspection.
func Encode(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Decode unmarshals data into v. Unknown "_type" tags inside nested
// map[string]any values pass through untouched, same as the Python
// JSONDecoder's object_hook falling through on an unrecognized _type.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// FileMD5 returns the lowercase hex MD5 digest of a file's contents.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for md5: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BytesMD5 returns the lowercase hex MD5 digest of an in-memory payload.
func BytesMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
