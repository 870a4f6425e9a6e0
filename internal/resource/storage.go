package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dpaw/resource-tracking/internal/apperrors"
	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/logging"
	"github.com/dpaw/resource-tracking/internal/metadatastore"
	"github.com/dpaw/resource-tracking/internal/types"
)

// IDFactory derives a resource_id from the resource name, used when the
// caller's metadata omits one.
type IDFactory func(resourceName string) string

// FileFactory derives a resource_file from the resource_id, used when
// the caller's metadata omits one.
type FileFactory func(resourceID string) string

// PathFactory computes the on-store path for a resource_file, given the
// resource's data path and an optional group.
type PathFactory func(dataPath, group, file string) string

// Options configures a Storage instance. GroupResource/Archive fix the
// resource's shape for its whole lifetime, matching the Python
// constructor parameters of the same name.
type Options struct {
	ResourceName     string
	ResourceBasePath string // defaults to ResourceName
	GroupResource    bool
	Archive          bool
	Cache            bool
	MetaName         string // defaults to "metadata"
	TimeZone         *time.Location

	FResourceID   IDFactory
	FResourceFile FileFactory
	FResourcePath PathFactory
}

// Storage is the public Resource Storage Layer client for one resource_name.
type Storage struct {
	resourceName     string
	resourceBasePath string
	resourceDataPath string
	groupResource    bool
	archive          bool
	tz               *time.Location

	blobClient blobstore.Client
	metaStore  *metadatastore.Store

	fResourceID   IDFactory
	fResourceFile FileFactory
	fResourcePath PathFactory

	log *logrus.Entry
}

func defaultFResourceID(resourceName string) string { return resourceName }

func defaultFResourceFile(resourceID string) string {
	return fmt.Sprintf("%s_%s.json", resourceID, time.Now().Format("2006-01-02-15-04-05"))
}

func defaultFResourcePath(dataPath, group, file string) string {
	if group != "" {
		return fmt.Sprintf("%s/%s/%s", dataPath, group, file)
	}
	return fmt.Sprintf("%s/%s", dataPath, file)
}

// New builds a Storage client. A caller-supplied factory always wins
// over the package default — the base constructor's factory-override
// logic this generalizes had an inverted `not` check in the source;
// Open Question #2 resolves it in favor of the obvious semantics.
func New(client blobstore.Client, opts Options) *Storage {
	basePath := opts.ResourceBasePath
	if basePath == "" {
		basePath = opts.ResourceName
	}
	dataPath := "data"
	if basePath != "" {
		dataPath = basePath + "/data"
	}

	metaName := opts.MetaName
	if metaName == "" {
		metaName = "metadata"
	}
	metaPath := metaName + ".json"
	if basePath != "" {
		metaPath = basePath + "/" + metaPath
	}

	loc := opts.TimeZone
	if loc == nil {
		loc = time.UTC
	}

	s := &Storage{
		resourceName:     opts.ResourceName,
		resourceBasePath: basePath,
		resourceDataPath: dataPath,
		groupResource:    opts.GroupResource,
		archive:          opts.Archive,
		tz:               loc,
		blobClient:       client,
		metaStore:        metadatastore.New(client.Blob(metaPath), true),
		fResourceID:      defaultFResourceID,
		fResourceFile:    defaultFResourceFile,
		fResourcePath:    defaultFResourcePath,
		log:              logging.Named(logging.LoggerStorage),
	}
	if opts.FResourceID != nil {
		s.fResourceID = opts.FResourceID
	}
	if opts.FResourceFile != nil {
		s.fResourceFile = opts.FResourceFile
	}
	if opts.FResourcePath != nil {
		s.fResourcePath = opts.FResourcePath
	}
	return s
}

// ResourceMetadata returns the whole document, or nil if none was ever published.
func (s *Storage) ResourceMetadata(ctx context.Context) (map[string]any, error) {
	var doc map[string]any
	ok, err := s.metaStore.Decode(ctx, &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// PushResource implements §4.4.1's nine-step push algorithm: resolve
// identity, demote the current archive version into history, upload the
// blob, invoke postPush, then atomically replace the metadata document.
// The blob write always happens before the metadata write (the
// ordering guarantee in §4.4.1 and §5).
func (s *Storage) PushResource(ctx context.Context, data []byte, meta *Metadata, postPush func(*Metadata)) (map[string]any, error) {
	if meta == nil {
		meta = &Metadata{Extra: map[string]any{}}
	}
	if meta.Extra == nil {
		meta.Extra = map[string]any{}
	}
	if s.groupResource && meta.ResourceGroup == "" {
		return nil, fmt.Errorf("push resource: missing resource_group in metadata")
	}

	resourceID := meta.ResourceID
	if resourceID == "" {
		resourceID = s.fResourceID(s.resourceName)
	}
	if resourceID == "" {
		return nil, fmt.Errorf("push resource: missing resource_id")
	}
	resourceFile := meta.ResourceFile
	if resourceFile == "" {
		resourceFile = s.fResourceFile(resourceID)
	}
	resourcePath := s.fResourcePath(s.resourceDataPath, meta.ResourceGroup, resourceFile)

	meta.ResourceID = resourceID
	meta.ResourceFile = resourceFile
	meta.ResourcePath = resourcePath
	meta.PublishDate = time.Now().In(s.tz)

	doc, err := s.ResourceMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}

	groupMap := doc
	if meta.ResourceGroup != "" {
		gm, ok := doc[meta.ResourceGroup].(map[string]any)
		if !ok {
			gm = map[string]any{}
			doc[meta.ResourceGroup] = gm
		}
		groupMap = gm
	}

	entryRaw, existed := groupMap[resourceID].(map[string]any)
	if !existed {
		entryRaw = map[string]any{}
	}

	if s.archive {
		histories, _ := entryRaw["histories"].([]any)
		if histories == nil {
			histories = []any{}
		}
		if current, ok := entryRaw["current"].(map[string]any); ok && current != nil {
			histories = append([]any{current}, histories...)
		}
		entryRaw["histories"] = histories
	}

	blob := s.blobClient.Blob(resourcePath)
	if err := blob.Update(ctx, data); err != nil {
		return nil, fmt.Errorf("push resource: uploading blob: %w", err)
	}
	s.log.Debugf("pushed resource blob %s", resourcePath)

	if postPush != nil {
		postPush(meta)
	}

	metaMap := meta.toMap(s.tz)
	if s.archive {
		entryRaw["current"] = metaMap
	} else {
		for k, v := range metaMap {
			entryRaw[k] = v
		}
	}
	groupMap[resourceID] = entryRaw

	if err := s.metaStore.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("push resource: updating metadata: %w", err)
	}

	return doc, nil
}

// GetMetadataOptions controls the lookup rules of §4.4.2.
type GetMetadataOptions struct {
	ResourceID      string
	ResourceGroup   string
	ResourceFile    string // defaults to "current"
	ThrowException  bool
}

// GetMetadata implements the lookup rules of §4.4.2.
func (s *Storage) GetMetadata(ctx context.Context, opts GetMetadataOptions) (any, error) {
	resourceFile := opts.ResourceFile
	if resourceFile == "" {
		resourceFile = "current"
	}

	if opts.ResourceID == "" && (opts.ResourceGroup == "" || !s.groupResource) {
		return s.ResourceMetadata(ctx)
	}

	doc, err := s.ResourceMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}

	var groupMap map[string]any
	if s.groupResource {
		if opts.ResourceGroup == "" {
			return nil, fmt.Errorf("get metadata: must provide resource_group for a group resource")
		}
		gm, ok := doc[opts.ResourceGroup].(map[string]any)
		if !ok {
			return s.notFound(opts.ThrowException, "resource group %s.%s not found", s.resourceName, opts.ResourceGroup)
		}
		groupMap = gm
		if opts.ResourceID == "" {
			return groupMap, nil
		}
	} else {
		groupMap = doc
	}

	entryRaw, ok := groupMap[opts.ResourceID].(map[string]any)
	if !ok {
		return s.notFound(opts.ThrowException, "resource %s.%s not found", s.resourceName, opts.ResourceID)
	}

	if !s.archive {
		return entryRaw, nil
	}

	current, _ := entryRaw["current"].(map[string]any)
	if current == nil {
		return s.notFound(opts.ThrowException, "no archived resource in %s.%s", s.resourceName, opts.ResourceID)
	}
	if resourceFile == "current" {
		return current, nil
	}
	if cf, _ := current["resource_file"].(string); cf == resourceFile {
		return current, nil
	}
	histories, _ := entryRaw["histories"].([]any)
	for _, h := range histories {
		hm, ok := h.(map[string]any)
		if !ok {
			continue
		}
		if hf, _ := hm["resource_file"].(string); hf == resourceFile {
			return hm, nil
		}
	}
	return s.notFound(opts.ThrowException, "resource file %s not found in %s.%s", resourceFile, s.resourceName, opts.ResourceID)
}

func (s *Storage) notFound(throw bool, format string, args ...any) (any, error) {
	if throw {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrResourceNotFound, fmt.Sprintf(format, args...))
	}
	return nil, nil
}

// IsExist reports whether a resource_id (optionally scoped to a group) has metadata.
func (s *Storage) IsExist(ctx context.Context, resourceID, group string) (bool, error) {
	m, err := s.GetMetadata(ctx, GetMetadataOptions{ResourceID: resourceID, ResourceGroup: group})
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// Download resolves resourceID (and resourceFile) via GetMetadata, then
// streams the referenced blob to localPath.
func (s *Storage) Download(ctx context.Context, resourceID, localPath string, overwrite bool, group, resourceFile string) (map[string]any, string, error) {
	m, err := s.GetMetadata(ctx, GetMetadataOptions{
		ResourceID:     resourceID,
		ResourceGroup:  group,
		ResourceFile:   resourceFile,
		ThrowException: true,
	})
	if err != nil {
		return nil, "", err
	}
	entry, ok := m.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("download: unexpected metadata shape for %s", resourceID)
	}
	path, _ := entry["resource_path"].(string)
	if path == "" {
		return nil, "", fmt.Errorf("download: resource %s has no resource_path", resourceID)
	}

	if localPath == "" {
		f, err := os.CreateTemp("", resourceID+"-*")
		if err != nil {
			return nil, "", fmt.Errorf("download: creating temp file: %w", err)
		}
		localPath = f.Name()
		f.Close()
	}

	if err := s.blobClient.Blob(path).Download(ctx, localPath, overwrite); err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	return entry, localPath, nil
}

// DownloadGroup downloads every entry's current (archive) or direct
// (non-archive) blob in a group into folder/<resource_file>.
func (s *Storage) DownloadGroup(ctx context.Context, group, folder string, overwrite bool) (map[string]any, string, error) {
	if !s.groupResource {
		return nil, "", fmt.Errorf("download group: %s is not a group resource", s.resourceName)
	}
	if folder == "" {
		dir, err := os.MkdirTemp("", group+"-*")
		if err != nil {
			return nil, "", fmt.Errorf("download group: creating folder: %w", err)
		}
		folder = dir
	} else if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, "", fmt.Errorf("download group: creating folder: %w", err)
	}

	m, err := s.GetMetadata(ctx, GetMetadataOptions{ResourceGroup: group, ThrowException: true})
	if err != nil {
		return nil, "", err
	}
	groupMap, ok := m.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("download group: unexpected metadata shape for group %s", group)
	}

	for _, raw := range groupMap {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s.archive {
			cur, _ := entry["current"].(map[string]any)
			if cur == nil {
				continue
			}
			entry = cur
		}
		file, _ := entry["resource_file"].(string)
		path, _ := entry["resource_path"].(string)
		if file == "" || path == "" {
			continue
		}
		dest := filepath.Join(folder, file)
		if err := s.blobClient.Blob(path).Download(ctx, dest, overwrite); err != nil {
			return nil, "", fmt.Errorf("download group: %s: %w", file, err)
		}
	}
	return groupMap, folder, nil
}

// DeleteResource removes one resource_id, or every entry in a group when
// resourceID is empty, per §4.4.3. Blob-delete failures are logged and
// do not abort the metadata cleanup, matching _delete_resource's
// log-and-continue behavior.
func (s *Storage) DeleteResource(ctx context.Context, resourceID, group string) (any, error) {
	if s.groupResource {
		if resourceID == "" && group == "" {
			return nil, fmt.Errorf("delete resource: specify resource id or resource group")
		}
	} else if resourceID == "" {
		return nil, fmt.Errorf("delete resource: specify resource id")
	}

	m, err := s.GetMetadata(ctx, GetMetadataOptions{ResourceID: resourceID, ResourceGroup: group})
	if err != nil {
		return nil, err
	}
	if m == nil {
		s.log.Debugf("resource %s.%s does not exist", group, resourceID)
		return nil, nil
	}

	if resourceID != "" {
		entry, ok := m.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("delete resource: unexpected metadata shape")
		}
		if err := s.deleteOne(ctx, group, resourceID, entry); err != nil {
			return nil, err
		}
		return m, nil
	}

	groupMap, ok := m.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("delete resource: unexpected metadata shape for group %s", group)
	}
	for id, raw := range groupMap {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if err := s.deleteOne(ctx, group, id, entry); err != nil {
			return nil, err
		}
	}
	return groupMap, nil
}

func (s *Storage) deleteOne(ctx context.Context, group, resourceID string, entry map[string]any) error {
	path := s.entryBlobPath(entry)
	if path != "" {
		if err := s.blobClient.Blob(path).Delete(ctx); err != nil {
			s.log.Errorf("failed to delete resource blob %s: %v", path, err)
		}
	}

	doc, err := s.ResourceMetadata(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	groupMap := doc
	if group != "" {
		gm, ok := doc[group].(map[string]any)
		if !ok {
			return nil
		}
		groupMap = gm
	}
	delete(groupMap, resourceID)
	return s.metaStore.Update(ctx, doc)
}

// entryBlobPath returns the path of the blob a delete must remove: the
// archive's current version, or the flat entry itself.
func (s *Storage) entryBlobPath(entry map[string]any) string {
	if s.archive {
		cur, _ := entry["current"].(map[string]any)
		if cur == nil {
			return ""
		}
		p, _ := cur["resource_path"].(string)
		return p
	}
	p, _ := entry["resource_path"].(string)
	return p
}

// DeleteAll removes every resource across every group (or the whole flat
// document) and the metadata document itself. It exists because
// get_metadata's addressing (§4.4.2) has no form that reaches "every
// group", which the archiver's delete_all entry point needs.
func (s *Storage) DeleteAll(ctx context.Context) error {
	doc, err := s.ResourceMetadata(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	deleteEntryBlob := func(raw any) {
		entry, ok := raw.(map[string]any)
		if !ok {
			return
		}
		path := s.entryBlobPath(entry)
		if path == "" {
			return
		}
		if err := s.blobClient.Blob(path).Delete(ctx); err != nil {
			s.log.Errorf("failed to delete resource blob %s: %v", path, err)
		}
	}

	if s.groupResource {
		for _, raw := range doc {
			groupMap, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for _, eraw := range groupMap {
				deleteEntryBlob(eraw)
			}
		}
	} else {
		for _, eraw := range doc {
			deleteEntryBlob(eraw)
		}
	}

	return s.metaStore.Delete(ctx)
}

// SortedArchiveEntries decodes every entry in groupMap into ArchiveEntry
// values, returning resource_ids sorted ascending. The archiver's VRT
// rebuild does not call it; it uses its own collectVRTLayers.
func SortedArchiveEntries(groupMap map[string]any) ([]string, map[string]ArchiveEntry, error) {
	ids := make([]string, 0, len(groupMap))
	entries := make(map[string]ArchiveEntry, len(groupMap))
	for id, raw := range groupMap {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cur, _ := entry["current"].(map[string]any)
		var ae ArchiveEntry
		if cur != nil {
			m, err := metadataFromMap(cur)
			if err != nil {
				return nil, nil, err
			}
			ae.Current = &m
		}
		if rawHist, ok := entry["histories"].([]any); ok && len(rawHist) > 0 {
			hist := make([]Metadata, 0, len(rawHist))
			for _, h := range rawHist {
				hm, ok := h.(map[string]any)
				if !ok {
					continue
				}
				m, err := metadataFromMap(hm)
				if err != nil {
					return nil, nil, err
				}
				hist = append(hist, m)
			}
			// Guards invariant 2 (§8.1): current, histories[0], histories[1], ...
			// must be monotonically non-increasing by publish_date even if the
			// stored document was hand-edited or written by an older version.
			ae.Histories = types.SortVersionsDesc(hist)
		}
		ids = append(ids, id)
		entries[id] = ae
	}
	sort.Strings(ids)
	return ids, entries, nil
}
