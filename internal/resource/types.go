// Package resource is the public Resource Storage Layer (§4.4, component
// E): upload, download, list, delete, verify over a metadata-indexed
// blob store, supporting flat/grouped layouts and archive/non-archive
// entry shapes. It is grounded on storage/azure_blob.py's
// AzureBlobResourceBase/AzureBlobResource/AzureBlobResourceClient.
package resource

import (
	"fmt"
	"time"
)

// Metadata is one resource version's required fields plus whatever
// user-supplied extras the caller attached, matching the "Dynamic
// metadata dicts" design note: a tagged union of required fields and an
// opaque map, not a free-for-all map[string]any.
type Metadata struct {
	ResourceID    string
	ResourceGroup string
	ResourceFile  string
	ResourcePath  string
	PublishDate   time.Time
	Extra         map[string]any
}

// GetEffectiveFrom lets Metadata satisfy types.Versioned so histories
// can be sorted newest-first with the teacher's generic sort helper.
func (m Metadata) GetEffectiveFrom() string {
	// Fixed-width layout so string comparison orders by time.
	return m.PublishDate.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// toMap flattens required fields and Extra into one JSON-ready map, the
// Go equivalent of the Python entry dict that carries both.
func (m Metadata) toMap(loc *time.Location) map[string]any {
	out := map[string]any{}
	for k, v := range m.Extra {
		out[k] = v
	}
	out["resource_id"] = m.ResourceID
	out["resource_file"] = m.ResourceFile
	out["resource_path"] = m.ResourcePath
	out["publish_date"] = encodeTime(m.PublishDate, loc)
	if m.ResourceGroup != "" {
		out["resource_group"] = m.ResourceGroup
	}
	return out
}

// metadataFromMap validates and extracts the required fields from a
// decoded JSON entry, keeping everything else in Extra.
func metadataFromMap(raw map[string]any) (Metadata, error) {
	m := Metadata{Extra: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "resource_id":
			s, ok := v.(string)
			if !ok {
				return Metadata{}, fmt.Errorf("resource_id: expected string")
			}
			m.ResourceID = s
		case "resource_group":
			if s, ok := v.(string); ok {
				m.ResourceGroup = s
			}
		case "resource_file":
			s, ok := v.(string)
			if !ok {
				return Metadata{}, fmt.Errorf("resource_file: expected string")
			}
			m.ResourceFile = s
		case "resource_path":
			s, ok := v.(string)
			if !ok {
				return Metadata{}, fmt.Errorf("resource_path: expected string")
			}
			m.ResourcePath = s
		case "publish_date":
			t, err := decodeTime(v)
			if err != nil {
				return Metadata{}, fmt.Errorf("publish_date: %w", err)
			}
			m.PublishDate = t
		default:
			m.Extra[k] = v
		}
	}
	if m.ResourceID == "" {
		return Metadata{}, fmt.Errorf("metadata entry missing resource_id")
	}
	return m, nil
}

// ArchiveEntry is an archive resource's per-resource_id record: the
// live version plus newest-first history.
type ArchiveEntry struct {
	Current   *Metadata
	Histories []Metadata
}
