package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/beacon/internal/incident"
)

func serveBody(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchCSV(t *testing.T) {
	t.Parallel()

	csv := "description,type,image_url\n" +
		"Broken window in hall C,facility,https://img.example/1.jpg\n" +
		"Student bullied online,bullying,\n" +
		",empty-text-row,\n"
	srv := serveBody(t, "text/csv", csv)

	subs, err := New(nil).FetchCSV(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchCSV: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2 (empty-text row skipped)", len(subs))
	}

	if subs[0].Text != "Broken window in hall C" {
		t.Errorf("text = %q", subs[0].Text)
	}
	if subs[0].DeclaredType != "infrastructure" {
		t.Errorf("type = %q, want infrastructure", subs[0].DeclaredType)
	}
	if len(subs[0].MediaRefs) != 1 || subs[0].MediaRefs[0] != "https://img.example/1.jpg" {
		t.Errorf("media = %v", subs[0].MediaRefs)
	}
	if subs[1].DeclaredType != "harassment" {
		t.Errorf("type = %q, want harassment", subs[1].DeclaredType)
	}
}

func TestFetchJSON_ArrayAndSingleObject(t *testing.T) {
	t.Parallel()

	array := serveBody(t, "application/json",
		`[{"text":"first report","category":"hacking","images":["a.png"]},{"description":"second report"}]`)
	subs, err := New(nil).FetchJSON(context.Background(), array.URL)
	if err != nil {
		t.Fatalf("FetchJSON array: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2", len(subs))
	}
	if subs[0].DeclaredType != "cyber" {
		t.Errorf("type = %q, want cyber", subs[0].DeclaredType)
	}
	if len(subs[0].MediaRefs) != 1 || subs[0].MediaRefs[0] != "a.png" {
		t.Errorf("media = %v", subs[0].MediaRefs)
	}
	if subs[1].DeclaredType != "auto" {
		t.Errorf("type = %q, want auto for untyped record", subs[1].DeclaredType)
	}

	single := serveBody(t, "application/json", `{"content":"lone report","type":"health"}`)
	subs, err = New(nil).FetchJSON(context.Background(), single.URL)
	if err != nil {
		t.Fatalf("FetchJSON object: %v", err)
	}
	if len(subs) != 1 || subs[0].Text != "lone report" || subs[0].DeclaredType != "medical" {
		t.Errorf("subs = %+v", subs)
	}
}

func TestFetchAPI_PaginatedEnvelope(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, "application/json",
		`{"results":[{"message":"fire alarm triggered","incident_type":"facility",
		  "attachments":[{"type":"image","url":"cam.jpg"},{"type":"document","url":"skip.pdf"}]}]}`)

	subs, err := New(nil).FetchAPI(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchAPI: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subs) = %d, want 1", len(subs))
	}
	if subs[0].Text != "fire alarm triggered" {
		t.Errorf("text = %q", subs[0].Text)
	}
	if subs[0].DeclaredType != "infrastructure" {
		t.Errorf("type = %q, want infrastructure", subs[0].DeclaredType)
	}
	if len(subs[0].MediaRefs) != 1 || subs[0].MediaRefs[0] != "cam.jpg" {
		t.Errorf("media = %v, want only typed attachments", subs[0].MediaRefs)
	}
}

func TestFetch_SourceStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	if _, err := New(nil).FetchJSON(context.Background(), srv.URL); err == nil || !strings.Contains(err.Error(), "410") {
		t.Errorf("error = %v, want source status error", err)
	}
}

func TestMultiSource_SettlesAllSources(t *testing.T) {
	t.Parallel()

	csvSrv := serveBody(t, "text/csv", "text,type\nreport one,cyber\n")
	jsonSrv := serveBody(t, "application/json", `[{"text":"report two"}]`)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(broken.Close)

	res, err := New(nil).MultiSource(context.Background(), MultiSourceRequest{
		CSVURL:       csvSrv.URL,
		JSONURL:      jsonSrv.URL,
		APIEndpoints: []string{broken.URL},
		Submitter:    "alice",
	})
	if err != nil {
		t.Fatalf("MultiSource: %v", err)
	}

	if res.ImportID == "" {
		t.Error("expected an import ID")
	}
	if res.SourcesProcessed != 2 {
		t.Errorf("sources processed = %d, want 2", res.SourcesProcessed)
	}
	if len(res.Failures) != 1 || res.Failures[0].Source != "api[0]" {
		t.Errorf("failures = %+v, want the broken endpoint attributed", res.Failures)
	}
	if res.TotalRecords != 2 || len(res.Submissions) != 2 {
		t.Fatalf("records = %d, want 2 despite one failed source", res.TotalRecords)
	}

	// Source declaration order: CSV records before JSON records.
	if res.Submissions[0].Text != "report one" || res.Submissions[1].Text != "report two" {
		t.Errorf("submissions out of order: %+v", res.Submissions)
	}
	for i, sub := range res.Submissions {
		if sub.Submitter != "alice" {
			t.Errorf("submission %d submitter = %q, want alice", i, sub.Submitter)
		}
	}
}

func TestMultiSource_Guards(t *testing.T) {
	t.Parallel()

	f := New(nil)

	_, err := f.MultiSource(context.Background(), MultiSourceRequest{CSVURL: "http://x"})
	if !errors.Is(err, incident.ErrValidation) {
		t.Errorf("missing submitter: err = %v, want ErrValidation", err)
	}

	_, err = f.MultiSource(context.Background(), MultiSourceRequest{Submitter: "alice"})
	if !errors.Is(err, incident.ErrValidation) {
		t.Errorf("no sources: err = %v, want ErrValidation", err)
	}
}

func TestNormalizeType(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", "auto"},
		{"bullying", "harassment"},
		{"fall", "accident"},
		{"PHISHING", "cyber"},
		{" building ", "infrastructure"},
		{"health", "medical"},
		{"something-else", "other"},
	}
	for _, tt := range tests {
		if got := normalizeType(tt.in); got != tt.want {
			t.Errorf("normalizeType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
