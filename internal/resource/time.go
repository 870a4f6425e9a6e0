package resource

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dpaw/resource-tracking/internal/codec"
)

// encodeTime returns the tagged-datetime JSON value for a map[string]any
// entry, reusing the codec package's datetime tagging.
func encodeTime(t time.Time, loc *time.Location) map[string]any {
	ct := codec.NewTime(t, loc)
	data, _ := json.Marshal(ct)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}

// decodeJSON is a thin alias kept next to the other codec bridging
// helpers in this file.
func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// decodeTime accepts either a codec-tagged datetime map or a bare
// RFC3339 string (for metadata written by non-Go tooling) and returns
// the parsed time.
func decodeTime(v any) (time.Time, error) {
	switch tv := v.(type) {
	case map[string]any:
		typ, _ := tv["_type"].(string)
		val, _ := tv["value"].(string)
		switch typ {
		case "datetime":
			var ct codec.Time
			data, _ := json.Marshal(tv)
			if err := json.Unmarshal(data, &ct); err != nil {
				return time.Time{}, err
			}
			return ct.Time, nil
		case "date":
			var cd codec.Date
			data, _ := json.Marshal(tv)
			if err := json.Unmarshal(data, &cd); err != nil {
				return time.Time{}, err
			}
			return cd.Time, nil
		default:
			return time.Time{}, fmt.Errorf("unrecognized tagged value %q", val)
		}
	case string:
		return time.Parse(time.RFC3339Nano, tv)
	default:
		return time.Time{}, fmt.Errorf("unsupported time representation %T", v)
	}
}
