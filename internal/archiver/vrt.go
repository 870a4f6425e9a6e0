package archiver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dpaw/resource-tracking/internal/apperrors"
	"github.com/dpaw/resource-tracking/internal/codec"
	"github.com/dpaw/resource-tracking/internal/resource"
)

// vrtTemplate and individualLayerTemplate reproduce the union-layer XML
// manifest format from §6.6, byte-for-byte.
const vrtTemplate = `<OGRVRTDataSource>
    <OGRVRTUnionLayer name="%s">
%s
    </OGRVRTUnionLayer>
</OGRVRTDataSource>`

const individualLayerTemplate = `        <OGRVRTLayer name="%s">
            <SrcDataSource>%s</SrcDataSource>
        </OGRVRTLayer>`

type vrtLayerRef struct {
	id   string
	file string
}

// collectVRTLayers extracts every non-VRT entry from a group's metadata
// map, sorted ascending by resource_id, and the sum of their feature
// counts (§4.5.3 step 6, §8.1.7).
func collectVRTLayers(groupMap map[string]any, vrtID string) ([]vrtLayerRef, int) {
	var layers []vrtLayerRef
	features := 0
	for id, raw := range groupMap {
		if id == vrtID {
			continue
		}
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		file, _ := entry["resource_file"].(string)
		layers = append(layers, vrtLayerRef{id: id, file: file})
		features += asInt(entry["features"])
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i].id < layers[j].id })
	return layers, features
}

func renderVRT(group string, layers []vrtLayerRef) string {
	lines := make([]string, len(layers))
	for i, l := range layers {
		lines[i] = fmt.Sprintf(individualLayerTemplate, l.id, l.file)
	}
	return fmt.Sprintf(vrtTemplate, group, strings.Join(lines, "\n"))
}

// pushGroupVRT renders and publishes the group's union VRT under
// "<group>.vrt", returning its md5.
func (a *Archiver) pushGroupVRT(ctx context.Context, storage *resource.Storage, group string, layers []vrtLayerRef, features int) (string, error) {
	vrtID := group + ".vrt"
	data := renderVRT(group, layers)
	md5sum := codec.BytesMD5([]byte(data))

	meta := &resource.Metadata{
		ResourceID:    vrtID,
		ResourceGroup: group,
		ResourceFile:  vrtID,
		Extra: map[string]any{
			"features": features,
			"file_md5": md5sum,
		},
	}
	loc := a.cfg.TimeZone
	postPush := func(m *resource.Metadata) {
		m.Extra["updated"] = codec.NewTime(time.Now().In(loc), loc)
	}

	if _, err := storage.PushResource(ctx, []byte(data), meta, postPush); err != nil {
		return "", fmt.Errorf("pushing group vrt: %w", err)
	}
	return md5sum, nil
}

// rebuildGroupVRT re-reads the group's post-upload metadata, rebuilds the
// union VRT from every remaining non-VRT entry, and optionally verifies
// the upload by re-download.
func (a *Archiver) rebuildGroupVRT(ctx context.Context, storage *resource.Storage, group, workFolder string, check bool) error {
	m, err := storage.GetMetadata(ctx, resource.GetMetadataOptions{ResourceGroup: group, ThrowException: true})
	if err != nil {
		return err
	}
	groupMap, ok := m.(map[string]any)
	if !ok {
		return fmt.Errorf("rebuild group vrt: unexpected metadata shape for group %s", group)
	}

	vrtID := group + ".vrt"
	layers, features := collectVRTLayers(groupMap, vrtID)
	md5sum, err := a.pushGroupVRT(ctx, storage, group, layers, features)
	if err != nil {
		return err
	}

	if !check {
		return nil
	}
	downloadPath := workFolder + "/loggedpoint_download.vrt"
	if _, _, err := storage.Download(ctx, vrtID, downloadPath, true, group, "current"); err != nil {
		return fmt.Errorf("rebuild group vrt: verifying upload: %w", err)
	}
	gotMD5, err := codec.FileMD5(downloadPath)
	if err != nil {
		return fmt.Errorf("rebuild group vrt: %w", err)
	}
	if gotMD5 != md5sum {
		return fmt.Errorf("%w: vrt md5 mismatch, source=%s uploaded=%s", apperrors.ErrIntegrityFailure, md5sum, gotMD5)
	}
	return nil
}
