package codec

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTimeRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("Australia/Perth")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	original := NewTime(time.Date(2024, 5, 1, 13, 30, 45, 123456000, time.UTC), loc)

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded Time
	if err := Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !decoded.Time.Equal(original.Time) {
		t.Errorf("round trip mismatch: got %v, want %v", decoded.Time, original.Time)
	}
}

func TestDateRoundTrip(t *testing.T) {
	original := NewDate(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !contains(string(data), `"_type": "date"`) {
		t.Errorf("expected tagged date, got %s", data)
	}

	var decoded Date
	if err := Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.Time.Equal(original.Time) {
		t.Errorf("round trip mismatch: got %v, want %v", decoded.Time, original.Time)
	}
}

func TestFileMD5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := FileMD5(path)
	if err != nil {
		t.Fatalf("FileMD5: %v", err)
	}
	want := BytesMD5([]byte("hello world"))
	if got != want {
		t.Errorf("FileMD5 = %s, want %s", got, want)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
