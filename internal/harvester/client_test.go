package harvester

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/scans", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-ApiKeys"); got != "accessKey=AK; secretKey=SK" {
			t.Errorf("X-ApiKeys header = %q", got)
		}
		if r.URL.Query().Get("folder_id") != "3" {
			t.Errorf("expected folder_id=3, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(scansResponse{Scans: []ScanSummary{
			{ID: 1, Name: "scan-1", Status: "completed", CreationDate: 100, LastModificationDate: 200},
		}})
	})
	mux.HandleFunc("/scans/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ScanDetail{Hosts: []ScanHost{{HostID: 10, Hostname: "host1"}}})
	})
	mux.HandleFunc("/scans/1/hosts/10", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HostDetail{
			Info: HostInfo{HostFQDN: "host1.example.wa.gov.au"},
			Vulnerabilities: []Vulnerability{
				{PluginID: 5, Count: 1, Severity: 2},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "https://nessus.example", "AK", "SK")
	return srv, client
}

func TestClientActiveScans(t *testing.T) {
	_, client := newTestServer(t)
	scans, err := client.ActiveScans(context.Background())
	if err != nil {
		t.Fatalf("ActiveScans: %v", err)
	}
	if len(scans) != 1 || scans[0].Name != "scan-1" {
		t.Fatalf("ActiveScans = %+v", scans)
	}
}

func TestClientScanAndHost(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	detail, err := client.Scan(ctx, 1)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(detail.Hosts) != 1 || detail.Hosts[0].HostID != 10 {
		t.Fatalf("Scan = %+v", detail)
	}

	host, err := client.Host(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if host.Info.HostFQDN != "host1.example.wa.gov.au" {
		t.Fatalf("Host = %+v", host)
	}
	if len(host.Vulnerabilities) != 1 || host.Vulnerabilities[0].PluginID != 5 {
		t.Fatalf("Vulnerabilities = %+v", host.Vulnerabilities)
	}
}

func TestClientReportURL(t *testing.T) {
	client := NewClient("https://nessus.internal", "https://nessus.example", "AK", "SK")
	got := client.ReportURL(1, 10)
	want := "https://nessus.example/#/scans/reports/1/hosts/10/vulnerabilities"
	if got != want {
		t.Errorf("ReportURL = %q, want %q", got, want)
	}
}

func TestClientNon200Surfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/scans", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", "AK", "SK")
	if _, err := client.Scans(context.Background()); err == nil {
		t.Fatal("expected an error for a 500 response, got nil")
	}
}
