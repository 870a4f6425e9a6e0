package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dpaw/resource-tracking/internal/apperrors"
	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/codec"
	"github.com/dpaw/resource-tracking/internal/config"
	"github.com/dpaw/resource-tracking/internal/logging"
	"github.com/dpaw/resource-tracking/internal/metadatastore"
	"github.com/dpaw/resource-tracking/internal/resource"
)

// indexMetadataPath is where the top-level harvest index document lives,
// directly at the container root, mirroring
// AzureBlobResourceMetadata(connection_string, container) constructed
// with no resource_base_path in nessus/harvester.py.
const indexMetadataPath = "metadata.json"

// scanAPI is the slice of Client's surface the orchestrator needs. A
// narrow interface here (rather than *Client directly) lets tests
// exercise the aggregation/grouping/publish logic against a fake
// without a live Nessus server.
type scanAPI interface {
	ActiveScans(ctx context.Context) ([]ScanSummary, error)
	Scan(ctx context.Context, scanID int) (*ScanDetail, error)
	Host(ctx context.Context, scanID, hostID int) (*HostDetail, error)
	ReportURL(scanID, hostID int) string
}

// Harvester drives one run of the scan-report harvest pipeline
// (§4.6, component G).
type Harvester struct {
	cfg    *config.Config
	client scanAPI

	blobClient                  blobstore.Client
	downloadVulnerabilityDetail bool

	index indexStore

	mu            sync.Mutex
	groupStorages map[string]*resource.Storage

	log *logrus.Entry
}

// indexStore is the narrow slice of metadatastore.Store the harvester
// needs, letting tests substitute a fake without a live blob backend.
type indexStore interface {
	Decode(ctx context.Context, v any) (bool, error)
	Update(ctx context.Context, v any) error
}

// New builds a Harvester. downloadVulnerabilityDetail controls whether
// published host entries keep their per-vulnerability list (§4.6.3).
func New(cfg *config.Config, client *Client, blobClient blobstore.Client, downloadVulnerabilityDetail bool) *Harvester {
	return newWithIndex(cfg, client, blobClient, downloadVulnerabilityDetail, metadatastore.New(blobClient.Blob(indexMetadataPath), true))
}

func newWithIndex(cfg *config.Config, client scanAPI, blobClient blobstore.Client, downloadVulnerabilityDetail bool, idx indexStore) *Harvester {
	return &Harvester{
		cfg:                         cfg,
		client:                      client,
		blobClient:                  blobClient,
		downloadVulnerabilityDetail: downloadVulnerabilityDetail,
		index:                       idx,
		groupStorages:               map[string]*resource.Storage{},
		log:                         logging.Named(logging.LoggerResourceTracking),
	}
}

// groupStorage is the memoized get_blob_resource()-equivalent for one
// group (§9 design note), generalized from a single sync.Once to a
// mutex-guarded map since the harvester serves more than one resource.
func (h *Harvester) groupStorage(group string) *resource.Storage {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.groupStorages[group]; ok {
		return s
	}
	s := resource.New(h.blobClient, resource.Options{
		ResourceName:  group,
		Archive:       true,
		GroupResource: false,
		TimeZone:      h.cfg.TimeZone,
	})
	h.groupStorages[group] = s
	return s
}

// indexDoc is the top-level harvest-index document (§3.6): the
// union window across every group plus the harvest_* audit block.
type indexDoc struct {
	ScanStartTime    *codec.Time `json:"scan_starttime,omitempty"`
	ScanEndTime      *codec.Time `json:"scan_endtime,omitempty"`
	HarvestStatus    string      `json:"harvest_status,omitempty"`
	HarvestStartTime *codec.Time `json:"harvest_starttime,omitempty"`
	HarvestEndTime   *codec.Time `json:"harvest_endtime,omitempty"`
	HarvestMessage   string      `json:"harvest_message,omitempty"`
}

// RunResult summarizes one successful harvest (§4.6.4).
type RunResult struct {
	Message       string
	ScanStartTime time.Time
	ScanEndTime   time.Time
	Published     map[string]map[string]any
	Skipped       map[string]string
}

// Run executes one harvest: poll, check completeness, compute window
// bounds, aggregate hosts, group, and publish (§4.6.1-§4.6.4). The
// harvest-index audit block is always updated except when the run
// returns NoNewScansError — per §8.1.6/S6 that path must leave no trace.
func (h *Harvester) Run(ctx context.Context) (*RunResult, error) {
	started := codec.NewTime(time.Now(), h.cfg.TimeZone)

	var idx indexDoc
	if _, err := h.index.Decode(ctx, &idx); err != nil {
		return nil, fmt.Errorf("reading harvest index: %w", err)
	}

	var lastScanTime *time.Time
	if idx.ScanEndTime != nil {
		t := idx.ScanEndTime.Time
		lastScanTime = &t
	}

	result, err := h.harvest(ctx, lastScanTime)
	if err != nil {
		var noNew *apperrors.NoNewScansError
		if errors.As(err, &noNew) {
			return nil, err
		}

		idx.HarvestStatus = "failed"
		idx.HarvestStartTime = &started
		ended := codec.NewTime(time.Now(), h.cfg.TimeZone)
		idx.HarvestEndTime = &ended
		idx.HarvestMessage = err.Error()
		if uerr := h.index.Update(ctx, idx); uerr != nil {
			h.log.WithError(uerr).Error("failed to record harvest failure in index")
		}
		return nil, err
	}

	idx.HarvestStatus = "succeed"
	idx.HarvestStartTime = &started
	ended := codec.NewTime(time.Now(), h.cfg.TimeZone)
	idx.HarvestEndTime = &ended
	idx.HarvestMessage = result.Message
	if idx.ScanStartTime == nil || result.ScanStartTime.Before(idx.ScanStartTime.Time) {
		st := codec.NewTime(result.ScanStartTime, h.cfg.TimeZone)
		idx.ScanStartTime = &st
	}
	if idx.ScanEndTime == nil || result.ScanEndTime.After(idx.ScanEndTime.Time) {
		et := codec.NewTime(result.ScanEndTime, h.cfg.TimeZone)
		idx.ScanEndTime = &et
	}
	if err := h.index.Update(ctx, idx); err != nil {
		return nil, fmt.Errorf("updating harvest index: %w", err)
	}

	return result, nil
}

func (h *Harvester) harvest(ctx context.Context, lastScanTime *time.Time) (*RunResult, error) {
	scans, err := h.client.ActiveScans(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching active scans: %w", err)
	}

	for _, s := range scans {
		if s.Status != "completed" && s.Status != "aborted" {
			return nil, &apperrors.ScanIncompleteError{ScanID: s.ID, ScanName: s.Name, Status: s.Status}
		}
	}
	if len(scans) == 0 {
		return nil, &apperrors.NoNewScansError{LastScanTime: formatOptionalTime(lastScanTime)}
	}

	all := make(map[int]bool, len(scans))
	for _, s := range scans {
		all[s.ID] = true
	}
	_, endSec := scanTimeBounds(scans, all)
	endTime := time.Unix(endSec, 0).In(h.cfg.TimeZone)

	if lastScanTime != nil && !lastScanTime.Before(endTime) {
		return nil, &apperrors.NoNewScansError{LastScanTime: lastScanTime.Format(time.RFC3339)}
	}

	hosts, err := h.collectHosts(ctx, scans)
	if err != nil {
		return nil, err
	}
	if !h.downloadVulnerabilityDetail {
		for _, hr := range hosts {
			hr.Vulnerabilities = nil
		}
	}

	groups := map[string]*GroupResult{}
	groupScanIDs := map[string]map[int]bool{}
	for hostname, hr := range hosts {
		g := classify(hostname)
		gr, ok := groups[g]
		if !ok {
			gr = &GroupResult{Hosts: map[string]*HostResult{}}
			groups[g] = gr
			groupScanIDs[g] = map[int]bool{}
		}
		gr.Hosts[hostname] = hr
		groupScanIDs[g][hr.ScanID] = true
		for _, id := range hr.OtherScanIDs {
			groupScanIDs[g][id] = true
		}
	}

	published := map[string]map[string]any{}
	skipped := map[string]string{}
	var publishedStart, publishedEnd time.Time
	for group, gr := range groups {
		s, e := scanTimeBounds(scans, groupScanIDs[group])
		gr.ScanStartTime = s
		gr.ScanEndTime = e
		groupStart := time.Unix(s, 0).In(h.cfg.TimeZone)
		groupEnd := time.Unix(e, 0).In(h.cfg.TimeZone)

		storage := h.groupStorage(group)
		existing, err := storage.GetMetadata(ctx, resource.GetMetadataOptions{ResourceID: group})
		if err != nil {
			return nil, fmt.Errorf("reading group %s metadata: %w", group, err)
		}
		if current, ok := existing.(map[string]any); ok {
			if existingEnd, derr := decodeTimeValue(current["scan_endtime"]); derr == nil && !existingEnd.Before(groupEnd) {
				skipped[group] = fmt.Sprintf("no new scans for %s since %s", group, existingEnd.Format(time.RFC3339))
				h.log.Debugf("%s", skipped[group])
				continue
			}
		}

		data, err := codec.Encode(gr)
		if err != nil {
			return nil, fmt.Errorf("encoding group %s: %w", group, err)
		}

		meta := &resource.Metadata{
			Extra: map[string]any{
				"scan_starttime": codec.NewTime(groupStart, h.cfg.TimeZone),
				"scan_endtime":   codec.NewTime(groupEnd, h.cfg.TimeZone),
			},
		}
		doc, err := storage.PushResource(ctx, data, meta, nil)
		if err != nil {
			return nil, fmt.Errorf("publishing group %s: %w", group, err)
		}
		published[group] = doc

		if publishedStart.IsZero() || groupStart.Before(publishedStart) {
			publishedStart = groupStart
		}
		if publishedEnd.IsZero() || groupEnd.After(publishedEnd) {
			publishedEnd = groupEnd
		}
	}

	if len(published) == 0 {
		return nil, &apperrors.NoNewScansError{LastScanTime: formatOptionalTime(lastScanTime)}
	}

	message := "OK"
	if len(skipped) > 0 {
		message = fmt.Sprintf("%d group(s) unchanged", len(skipped))
	}

	return &RunResult{
		Message:       message,
		ScanStartTime: publishedStart,
		ScanEndTime:   publishedEnd,
		Published:     published,
		Skipped:       skipped,
	}, nil
}

// collectHosts implements §4.6.3: per-scan host enumeration, first
// occurrence wins the primary entry, later occurrences of the same
// canonical hostname merge in as other_scan_* plus non-duplicate,
// non-offline vulnerabilities. It is grounded on
// nessus/download.py's download(); all scans (completed and aborted)
// are enumerated here, matching the source's unconditional loop — the
// completeness check in harvest() already guarantees every scan's
// status is one of those two.
func (h *Harvester) collectHosts(ctx context.Context, scans []ScanSummary) (map[string]*HostResult, error) {
	hosts := map[string]*HostResult{}
	for _, scan := range scans {
		detail, err := h.client.Scan(ctx, scan.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching scan %d detail: %w", scan.ID, err)
		}
		for _, sh := range detail.Hosts {
			hostDetail, err := h.client.Host(ctx, scan.ID, sh.HostID)
			if err != nil {
				return nil, fmt.Errorf("fetching host %d detail for scan %d: %w", sh.HostID, scan.ID, err)
			}

			hostname := sh.Hostname
			if hostDetail.Info.HostFQDN != "" {
				hostname = hostDetail.Info.HostFQDN
			}

			vulns := make([]Vulnerability, len(hostDetail.Vulnerabilities))
			copy(vulns, hostDetail.Vulnerabilities)
			for i := range vulns {
				vulns[i].ScanID = scan.ID
			}

			existing, ok := hosts[hostname]
			if !ok {
				hosts[hostname] = &HostResult{
					HostID:          sh.HostID,
					Hostname:        hostname,
					Info:            sh.Info,
					Low:             sh.Low,
					Medium:          sh.Medium,
					High:            sh.High,
					Critical:        sh.Critical,
					Severity:        sh.Severity,
					Score:           sh.Score,
					HostInfo:        hostDetail.Info,
					ScanID:          scan.ID,
					ScanName:        scan.Name,
					ReportURL:       h.client.ReportURL(scan.ID, sh.HostID),
					Vulnerabilities: vulns,
				}
				continue
			}

			h.log.Debugf("%s was scanned in multiple scans (%s, %s)", hostname, existing.ScanName, scan.Name)
			existing.OtherScanIDs = append(existing.OtherScanIDs, scan.ID)
			existing.OtherScanNames = append(existing.OtherScanNames, scan.Name)
			existing.OtherReportURLs = append(existing.OtherReportURLs, h.client.ReportURL(scan.ID, sh.HostID))

			for _, v := range vulns {
				if v.Offline {
					continue
				}
				if existing.hasVulnerability(v.PluginID) {
					continue
				}
				existing.Vulnerabilities = append(existing.Vulnerabilities, v)
				existing.incrementSeverity(v.Severity, v.Count)
			}
		}
	}
	return hosts, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

// decodeTimeValue decodes a codec-tagged datetime value out of a
// generically-unmarshaled map[string]any, mirroring internal/resource's
// unexported decodeTime for the one field the harvester needs to read
// back (scan_endtime) to decide whether a group has new scans.
func decodeTimeValue(v any) (time.Time, error) {
	if v == nil {
		return time.Time{}, fmt.Errorf("missing time value")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return time.Time{}, err
	}
	var ct codec.Time
	if err := json.Unmarshal(data, &ct); err != nil {
		return time.Time{}, err
	}
	return ct.Time, nil
}
