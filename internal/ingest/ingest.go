// Package ingest pulls incident reports out of remote CSV, JSON, and REST
// sources and normalizes them into canonical submissions for batch
// processing. Sources differ wildly in field naming; the normalizers accept
// the common aliases and map foreign incident types onto ours.
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/incident"
)

const (
	fetchTimeout = 30 * time.Second
	maxBodyBytes = 8 << 20
	userAgent    = "beacon-ingest/1.0"
)

// Fetcher retrieves and normalizes submissions from external sources.
type Fetcher struct {
	client *http.Client
	logger log.Logger
}

// New creates a Fetcher. A nil logger falls back to a no-op logger.
func New(logger log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Fetcher{
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger.With("component", "ingest"),
	}
}

// MultiSourceRequest names the sources for one import. At least one source
// must be set.
type MultiSourceRequest struct {
	CSVURL       string   `json:"csv_url,omitempty"`
	JSONURL      string   `json:"json_url,omitempty"`
	APIEndpoints []string `json:"api_endpoints,omitempty"`
	Submitter    string   `json:"submitter"`
}

// SourceFailure records one source that could not be fetched. The other
// sources still contribute their records.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Result is the outcome of one import.
type Result struct {
	ImportID         string                `json:"import_id"`
	TotalRecords     int                   `json:"total_records"`
	SourcesProcessed int                   `json:"sources_processed"`
	Failures         []SourceFailure       `json:"failures,omitempty"`
	Submissions      []incident.Submission `json:"submissions"`
}

// MultiSource fetches every named source concurrently and settles all of
// them: a failed source is recorded and skipped, the rest still land.
// Records keep source declaration order (CSV, JSON, then endpoints in
// order) and all carry the request's submitter.
func (f *Fetcher) MultiSource(ctx context.Context, req MultiSourceRequest) (*Result, error) {
	if req.Submitter == "" {
		return nil, fmt.Errorf("%w: submitter is required", incident.ErrValidation)
	}

	type source struct {
		name  string
		fetch func(context.Context, string) ([]incident.Submission, error)
		url   string
	}
	var sources []source
	if req.CSVURL != "" {
		sources = append(sources, source{"csv", f.FetchCSV, req.CSVURL})
	}
	if req.JSONURL != "" {
		sources = append(sources, source{"json", f.FetchJSON, req.JSONURL})
	}
	for i, ep := range req.APIEndpoints {
		sources = append(sources, source{fmt.Sprintf("api[%d]", i), f.FetchAPI, ep})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: at least one source is required", incident.ErrValidation)
	}

	subs := make([][]incident.Submission, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src source) {
			defer wg.Done()
			subs[i], errs[i] = src.fetch(ctx, src.url)
		}(i, src)
	}
	wg.Wait()

	res := &Result{ImportID: ulid.Make().String()}
	for i, src := range sources {
		if errs[i] != nil {
			f.logger.Warn(ctx, "import source failed", "source", src.name, "error", errs[i])
			res.Failures = append(res.Failures, SourceFailure{Source: src.name, Error: errs[i].Error()})
			continue
		}
		res.SourcesProcessed++
		for _, s := range subs[i] {
			s.Submitter = req.Submitter
			res.Submissions = append(res.Submissions, s)
		}
	}
	res.TotalRecords = len(res.Submissions)

	f.logger.Info(ctx, "multi-source import settled",
		"import_id", res.ImportID,
		"records", res.TotalRecords,
		"sources_ok", res.SourcesProcessed,
		"sources_failed", len(res.Failures),
	)
	return res, nil
}

// FetchCSV retrieves a header-rowed CSV and maps each row to a submission.
func (f *Fetcher) FetchCSV(ctx context.Context, url string) ([]incident.Submission, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}

	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: parse: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	var out []incident.Submission
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[strings.ToLower(strings.TrimSpace(col))] = strings.TrimSpace(row[i])
			}
		}
		if sub, ok := normalizeCSVRecord(rec); ok {
			out = append(out, sub)
		}
	}
	return out, nil
}

// FetchJSON retrieves a JSON document holding either one record or an array
// of records.
func (f *Fetcher) FetchJSON(ctx context.Context, url string) ([]incident.Submission, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	var out []incident.Submission
	for _, rec := range records {
		if sub, ok := normalizeJSONRecord(rec); ok {
			out = append(out, sub)
		}
	}
	return out, nil
}

// FetchAPI retrieves records from an external REST endpoint. Paginated
// envelopes with a results or items array are unwrapped.
func (f *Fetcher) FetchAPI(ctx context.Context, endpoint string) ([]incident.Submission, error) {
	body, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	var out []incident.Submission
	for _, rec := range records {
		if sub, ok := normalizeAPIRecord(rec); ok {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("source returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// decodeRecords accepts a bare array, a single object, or a paginated
// envelope keyed by results or items.
func decodeRecords(body []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var records []map[string]any
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return records, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	for _, key := range []string{"results", "items"} {
		if list, ok := obj[key].([]any); ok {
			records := make([]map[string]any, 0, len(list))
			for _, item := range list {
				if rec, ok := item.(map[string]any); ok {
					records = append(records, rec)
				}
			}
			return records, nil
		}
	}
	return []map[string]any{obj}, nil
}

func normalizeCSVRecord(rec map[string]string) (incident.Submission, bool) {
	text := firstNonEmpty(rec["description"], rec["text"], rec["incident_description"])
	if text == "" {
		return incident.Submission{}, false
	}
	var media []string
	for _, col := range []string{"image_url", "audio_url", "video_url"} {
		if rec[col] != "" {
			media = append(media, rec[col])
		}
	}
	return incident.Submission{
		Text:         text,
		DeclaredType: normalizeType(firstNonEmpty(rec["type"], rec["incident_type"])),
		MediaRefs:    media,
	}, true
}

func normalizeJSONRecord(rec map[string]any) (incident.Submission, bool) {
	text := firstNonEmpty(str(rec["text"]), str(rec["description"]), str(rec["content"]))
	if text == "" {
		return incident.Submission{}, false
	}
	var media []string
	for _, key := range []string{"images", "image_urls", "audio", "audio_urls", "videos", "video_urls"} {
		media = append(media, strList(rec[key])...)
	}
	return incident.Submission{
		Text:         text,
		DeclaredType: normalizeType(firstNonEmpty(str(rec["type"]), str(rec["category"]))),
		MediaRefs:    media,
	}, true
}

func normalizeAPIRecord(rec map[string]any) (incident.Submission, bool) {
	text := firstNonEmpty(str(rec["description"]), str(rec["message"]), str(rec["text"]))
	if text == "" {
		return incident.Submission{}, false
	}
	var media []string
	if attachments, ok := rec["attachments"].([]any); ok {
		for _, a := range attachments {
			att, ok := a.(map[string]any)
			if !ok {
				continue
			}
			switch str(att["type"]) {
			case "image", "audio", "video":
				if url := str(att["url"]); url != "" {
					media = append(media, url)
				}
			}
		}
	}
	return incident.Submission{
		Text:         text,
		DeclaredType: normalizeType(firstNonEmpty(str(rec["type"]), str(rec["category"]), str(rec["incident_type"]))),
		MediaRefs:    media,
	}, true
}

// Foreign type vocabularies map onto our categories; unknown types become
// "other" and an absent type leaves classification to the pipeline.
var typeAliases = map[string]string{
	"bullying":       "harassment",
	"harassment":     "harassment",
	"injury":         "accident",
	"accident":       "accident",
	"fall":           "accident",
	"cyber":          "cyber",
	"hacking":        "cyber",
	"phishing":       "cyber",
	"infrastructure": "infrastructure",
	"facility":       "infrastructure",
	"building":       "infrastructure",
	"medical":        "medical",
	"health":         "medical",
}

func normalizeType(t string) string {
	if t == "" {
		return "auto"
	}
	if mapped, ok := typeAliases[strings.ToLower(strings.TrimSpace(t))]; ok {
		return mapped
	}
	return "other"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, _ := item.(string); s != "" {
			out = append(out, s)
		}
	}
	return out
}
