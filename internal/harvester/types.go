package harvester

// severityProperties maps a vulnerability's severity index (0..4) to the
// HostResult counter field it increments on merge, matching
// nessus/download.py's severity_properties.
var severityProperties = [5]string{"info", "low", "medium", "high", "critical"}

// HostResult is one host's aggregated scan result (§4.6.3). The first
// scan to report a hostname populates ScanID/ScanName/ReportURL and the
// severity counts verbatim from the API; later scans reporting the same
// hostname only contribute their OtherScan* identifiers and any
// non-duplicate, non-offline vulnerabilities.
type HostResult struct {
	HostID   int    `json:"host_id"`
	Hostname string `json:"-"`

	Info     int `json:"info"`
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
	Severity int `json:"severity"`
	Score    int `json:"score"`

	HostInfo  HostInfo `json:"host_info"`
	ScanID    int      `json:"scan_id"`
	ScanName  string   `json:"scan_name"`
	ReportURL string   `json:"report_url"`

	OtherScanIDs    []int    `json:"other_scan_ids,omitempty"`
	OtherScanNames  []string `json:"other_scan_names,omitempty"`
	OtherReportURLs []string `json:"other_report_urls,omitempty"`

	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
}

// incrementSeverity adds count to the counter named by severity,
// ignoring severities outside the known 0..4 range.
func (h *HostResult) incrementSeverity(severity, count int) {
	if severity < 0 || severity >= len(severityProperties) {
		return
	}
	switch severityProperties[severity] {
	case "info":
		h.Info += count
	case "low":
		h.Low += count
	case "medium":
		h.Medium += count
	case "high":
		h.High += count
	case "critical":
		h.Critical += count
	}
}

// hasVulnerability reports whether a vulnerability with the given
// plugin_id is already present, the de-duplication key used when
// merging a duplicate scan's findings (§4.6.3).
func (h *HostResult) hasVulnerability(pluginID int) bool {
	for _, v := range h.Vulnerabilities {
		if v.PluginID == pluginID {
			return true
		}
	}
	return false
}

// GroupResult is one classification group's published document
// (§4.6.4): the hosts it contains plus the scan-time bounds computed
// from every scan id that contributed a host to the group.
type GroupResult struct {
	Hosts         map[string]*HostResult `json:"hosts"`
	ScanStartTime int64                  `json:"scan_starttime"`
	ScanEndTime   int64                  `json:"scan_endtime"`
}
