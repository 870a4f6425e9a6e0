package harvester

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dpaw/resource-tracking/internal/apperrors"
	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/codec"
	"github.com/dpaw/resource-tracking/internal/config"
	"github.com/dpaw/resource-tracking/internal/metadatastore"
)

// fakeClient is a scanAPI double driven entirely from in-memory fixtures,
// so the aggregation/grouping/publish pipeline can be exercised without a
// live Nessus server.
type fakeClient struct {
	scans      []ScanSummary
	scanHosts  map[int][]ScanHost
	hostDetail map[[2]int]*HostDetail
}

func (f *fakeClient) ActiveScans(ctx context.Context) ([]ScanSummary, error) {
	return f.scans, nil
}

func (f *fakeClient) Scan(ctx context.Context, scanID int) (*ScanDetail, error) {
	return &ScanDetail{Hosts: f.scanHosts[scanID]}, nil
}

func (f *fakeClient) Host(ctx context.Context, scanID, hostID int) (*HostDetail, error) {
	return f.hostDetail[[2]int{scanID, hostID}], nil
}

func (f *fakeClient) ReportURL(scanID, hostID int) string {
	return "https://nessus.example/report"
}

func newTestHarvester(t *testing.T, client *fakeClient) (*Harvester, blobstore.Client) {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Perth")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	blobClient, err := blobstore.NewLocalClient(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	cfg := &config.Config{TimeZone: loc}
	idx := metadatastore.New(blobClient.Blob(indexMetadataPath), true)
	h := newWithIndex(cfg, client, blobClient, true, idx)
	return h, blobClient
}

func oneScanOneHostFixture() *fakeClient {
	return &fakeClient{
		scans: []ScanSummary{
			{ID: 1, Name: "scan-1", Status: "completed", CreationDate: 1000, LastModificationDate: 2000},
		},
		scanHosts: map[int][]ScanHost{
			1: {{HostID: 10, Hostname: "host1", Critical: 1}},
		},
		hostDetail: map[[2]int]*HostDetail{
			{1, 10}: {
				Info: HostInfo{HostFQDN: "host1.agency.wa.gov.au"},
				Vulnerabilities: []Vulnerability{
					{PluginID: 100, Count: 1, Severity: 4},
				},
			},
		},
	}
}

func TestHarvestFirstRunPublishesGroup(t *testing.T) {
	h, _ := newTestHarvester(t, oneScanOneHostFixture())

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Published) != 1 {
		t.Fatalf("Published = %+v, want exactly one group", result.Published)
	}
	if _, ok := result.Published[GroupWebapps]; !ok {
		t.Fatalf("expected host1.agency.wa.gov.au to land in %q, got %+v", GroupWebapps, result.Published)
	}
}

func TestHarvestNoNewScansOnRerun(t *testing.T) {
	h, _ := newTestHarvester(t, oneScanOneHostFixture())
	ctx := context.Background()

	if _, err := h.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	_, err := h.Run(ctx)
	if err == nil {
		t.Fatal("second Run: expected NoNewScansError, got nil")
	}
	var noNew *apperrors.NoNewScansError
	if !errors.As(err, &noNew) {
		t.Fatalf("second Run error = %v, want NoNewScansError", err)
	}
}

func TestHarvestScanIncompleteAborts(t *testing.T) {
	client := oneScanOneHostFixture()
	client.scans[0].Status = "running"

	h, _ := newTestHarvester(t, client)
	_, err := h.Run(context.Background())
	if err == nil {
		t.Fatal("expected ScanIncompleteError, got nil")
	}
}

func TestHarvestGroupsBySuffix(t *testing.T) {
	client := &fakeClient{
		scans: []ScanSummary{
			{ID: 1, Name: "scan-1", Status: "completed", CreationDate: 1000, LastModificationDate: 2000},
		},
		scanHosts: map[int][]ScanHost{
			1: {
				{HostID: 10, Hostname: "webapp1"},
				{HostID: 11, Hostname: "server1"},
			},
		},
		hostDetail: map[[2]int]*HostDetail{
			{1, 10}: {Info: HostInfo{HostFQDN: "webapp1.agency.wa.gov.au"}},
			{1, 11}: {Info: HostInfo{HostFQDN: "server1.internal.corp"}},
		},
	}

	h, _ := newTestHarvester(t, client)
	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := result.Published[GroupWebapps]; !ok {
		t.Errorf("expected %q group published, got %+v", GroupWebapps, result.Published)
	}
	if _, ok := result.Published[GroupHosts]; !ok {
		t.Errorf("expected %q group published, got %+v", GroupHosts, result.Published)
	}
}

func TestHarvestDuplicateHostMergesVulnerabilities(t *testing.T) {
	client := &fakeClient{
		scans: []ScanSummary{
			{ID: 1, Name: "scan-1", Status: "completed", CreationDate: 1000, LastModificationDate: 2000},
			{ID: 2, Name: "scan-2", Status: "completed", CreationDate: 1500, LastModificationDate: 2500},
		},
		scanHosts: map[int][]ScanHost{
			1: {{HostID: 10, Hostname: "host1"}},
			2: {{HostID: 20, Hostname: "host1"}},
		},
		hostDetail: map[[2]int]*HostDetail{
			{1, 10}: {
				Info: HostInfo{HostFQDN: "host1.agency.wa.gov.au"},
				Vulnerabilities: []Vulnerability{
					{PluginID: 100, Count: 1, Severity: 4},
				},
			},
			{2, 20}: {
				Info: HostInfo{HostFQDN: "host1.agency.wa.gov.au"},
				Vulnerabilities: []Vulnerability{
					{PluginID: 100, Count: 1, Severity: 4}, // duplicate plugin, must not double count
					{PluginID: 200, Count: 2, Severity: 3}, // new plugin, must be added
					{PluginID: 300, Count: 5, Severity: 0, Offline: true}, // offline, must be ignored
				},
			},
		},
	}

	h, _ := newTestHarvester(t, client)
	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc := result.Published[GroupWebapps]
	var decoded GroupResult
	if err := decodeResourcePayload(h, doc, GroupWebapps, &decoded); err != nil {
		t.Fatalf("decoding published group: %v", err)
	}
	host := decoded.Hosts["host1.agency.wa.gov.au"]
	if host == nil {
		t.Fatalf("published group missing host1.agency.wa.gov.au: %+v", decoded)
	}
	if len(host.Vulnerabilities) != 2 {
		t.Fatalf("Vulnerabilities = %+v, want 2 (dedup'd, offline skipped)", host.Vulnerabilities)
	}
	if host.High != 2 {
		t.Errorf("High = %d, want 2 from the merged high-severity plugin", host.High)
	}
	if len(host.OtherScanIDs) != 1 || host.OtherScanIDs[0] != 2 {
		t.Errorf("OtherScanIDs = %v, want [2]", host.OtherScanIDs)
	}
}

// decodeResourcePayload re-downloads the blob a publish step just wrote
// and decodes it, giving tests a way to assert on the actual bytes
// written to storage rather than only the in-memory doc. doc is the
// whole storage document PushResource returned, keyed by the group's own
// resource_id (the group name, via the default identity factory).
func decodeResourcePayload(h *Harvester, doc map[string]any, group string, out *GroupResult) error {
	entryRaw, ok := doc[group].(map[string]any)
	if !ok {
		return fmt.Errorf("document has no entry for %q: %+v", group, doc)
	}
	current, ok := entryRaw["current"].(map[string]any)
	if !ok {
		return fmt.Errorf("entry for %q has no current version: %+v", group, entryRaw)
	}
	path, _ := current["resource_path"].(string)
	data, err := h.blobClient.Blob(path).Read(context.Background())
	if err != nil {
		return err
	}
	return codec.Decode(data, out)
}
