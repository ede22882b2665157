package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"

	"github.com/dmaguirre/mercadoscan/config"
	"github.com/dmaguirre/mercadoscan/models"
	"github.com/dmaguirre/mercadoscan/scraper"
	"github.com/dmaguirre/mercadoscan/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router    *gin.Engine
	store     *store.MemoryStore
	transport *httpmock.MockTransport
	cfg       *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test/"
	cfg.PageDelay = 0
	cfg.MaxRetries = 0
	cfg.OutputDir = t.TempDir()

	transport := httpmock.NewMockTransport()
	crawler, err := scraper.NewCrawler(cfg)
	if err != nil {
		t.Fatalf("new crawler: %v", err)
	}
	crawler.WithTransport(transport)

	st := store.NewMemoryStore()
	return &testEnv{
		router:    New(cfg, crawler, st).Router(),
		store:     st,
		transport: transport,
		cfg:       cfg,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func seedListing(t *testing.T, env *testEnv, term, id, date string, price int) {
	t.Helper()
	err := env.store.Upsert(t.Context(), &models.ListingRecord{
		ListingID:    id,
		SearchTerm:   term,
		Description:  "Test listing " + id,
		PriceRaw:     fmt.Sprintf("US$%d", price),
		PriceAmount:  price,
		Currency:     models.CurrencyUSD,
		SnapshotDate: date,
		CapturedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
}

func listingPage(ids ...int) string {
	var b strings.Builder
	b.WriteString("<html><body><ol>")
	for _, id := range ids {
		b.WriteString(`<div class="ui-search-result__wrapper">`)
		fmt.Fprintf(&b, `<a class="poly-component__title" href="https://auto.example.test/MLA-%d-item-_JM">Volkswagen Gol %d</a>`, id, id)
		b.WriteString(`<span class="andes-money-amount__fraction">20.000</span>`)
		b.WriteString(`<ul><li class="poly-attributes_list__item">2019</li><li class="poly-attributes_list__item">45.000 Km</li></ul>`)
		b.WriteString(`<span class="poly-component__location">Palermo, Capital Federal</span>`)
		b.WriteString(`</div>`)
	}
	b.WriteString("</ol></body></html>")
	return b.String()
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "crawler_") {
		t.Fatalf("metrics output missing crawler collectors")
	}
}

func TestScrapeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_1", htmlResponder(listingPage(101, 102)))
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_49", httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := env.do(t, http.MethodPost, "/api/scrape", gin.H{"search_term": "gol"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp scrapeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.StopReason != scraper.StopNotFound {
		t.Fatalf("stop reason = %q, want %q", resp.StopReason, scraper.StopNotFound)
	}
	if resp.RecordCount != 2 || len(resp.Records) != 2 {
		t.Fatalf("records = %d/%d, want 2", resp.RecordCount, len(resp.Records))
	}
	if resp.Records[0].ListingID != "MLA101" {
		t.Fatalf("listing id = %q, want MLA101", resp.Records[0].ListingID)
	}
	if resp.Records[0].Variation != models.VariationUnknown {
		t.Fatalf("variation = %q, want UNKNOWN on first sighting", resp.Records[0].Variation)
	}
	if len(resp.Logs) == 0 {
		t.Fatalf("expected operator log lines")
	}

	// The crawl must have persisted its snapshots.
	if got := env.store.Len(); got != 2 {
		t.Fatalf("stored = %d, want 2", got)
	}
}

func TestScrapeTagsVariationAgainstPriorDay(t *testing.T) {
	env := newTestEnv(t)
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(models.SnapshotDateFormat)
	seedListing(t, env, "gol", "MLA101", yesterday, 18000)

	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_1", htmlResponder(listingPage(101)))
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_49", httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := env.do(t, http.MethodPost, "/api/scrape", gin.H{"search_term": "gol"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp scrapeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Today's 20000 against yesterday's 18000.
	if resp.Records[0].Variation != models.VariationUp {
		t.Fatalf("variation = %q, want UP", resp.Records[0].Variation)
	}
}

func TestScrapeDisplayConversionDoesNotTouchStore(t *testing.T) {
	env := newTestEnv(t)
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_1", htmlResponder(listingPage(101)))
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_49", httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := env.do(t, http.MethodPost, "/api/scrape", gin.H{
		"search_term":      "gol",
		"display_currency": "ARS",
		"exchange_rate":    1000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp scrapeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Records[0].Currency != models.CurrencyARS || resp.Records[0].PriceAmount != 20000000 {
		t.Fatalf("displayed = %d %s, want 20000000 ARS", resp.Records[0].PriceAmount, resp.Records[0].Currency)
	}

	stored, err := env.store.FindAll(t.Context(), store.Filter{SearchTerm: "gol"})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if stored[0].Currency != models.CurrencyUSD || stored[0].PriceAmount != 20000 {
		t.Fatalf("stored = %d %s, want as-observed 20000 USD", stored[0].PriceAmount, stored[0].Currency)
	}
}

func TestScrapeValidation(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/scrape", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing term: status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/scrape", gin.H{"search_term": "gol", "display_currency": "EUR"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad currency: status = %d, want 400", w.Code)
	}
}

func TestScrapeAllEndpoint(t *testing.T) {
	env := newTestEnv(t)
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(models.SnapshotDateFormat)
	seedListing(t, env, "gol", "MLA101", yesterday, 18000)

	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_1", htmlResponder(listingPage(101)))
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_49", httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := env.do(t, http.MethodPost, "/api/scrape-all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Crawled int `json:"crawled"`
		Results []struct {
			SearchTerm string `json:"search_term"`
			Records    int    `json:"records"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Crawled != 1 || len(resp.Results) != 1 {
		t.Fatalf("crawled = %d, want 1", resp.Crawled)
	}
	if resp.Results[0].SearchTerm != "gol" || resp.Results[0].Records != 1 {
		t.Fatalf("result = %+v", resp.Results[0])
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env, "gol", "MLA101", "2026-08-30", 100)
	seedListing(t, env, "gol", "MLA101", "2026-08-31", 110)
	seedListing(t, env, "gol", "MLA101", "2026-09-01", 90)

	w := env.do(t, http.MethodPost, "/api/history", gin.H{"search_term": "gol", "listing_id": "MLA101"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		History []models.HistoryPoint `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	expected := []models.HistoryPoint{
		{Date: "2026-08-30", AvgPrice: 100},
		{Date: "2026-08-31", AvgPrice: 110},
		{Date: "2026-09-01", AvgPrice: 90},
	}
	if len(resp.History) != len(expected) {
		t.Fatalf("points = %d, want %d", len(resp.History), len(expected))
	}
	for i, want := range expected {
		if resp.History[i] != want {
			t.Fatalf("point %d = %+v, want %+v", i, resp.History[i], want)
		}
	}

	if w := env.do(t, http.MethodPost, "/api/history", gin.H{"search_term": "gol"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing listing_id: status = %d, want 400", w.Code)
	}
}

func TestTermsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env, "ranger", "MLA2", "2026-09-01", 35000)
	seedListing(t, env, "gol", "MLA1", "2026-09-01", 20000)

	w := env.do(t, http.MethodGet, "/api/terms", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Terms []string `json:"terms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Terms) != 2 || resp.Terms[0] != "gol" || resp.Terms[1] != "ranger" {
		t.Fatalf("terms = %v, want [gol ranger]", resp.Terms)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env, "gol", "MLA1", "2026-09-01", 20000)
	seedListing(t, env, "gol", "MLA2", "2026-09-01", 24000)

	w := env.do(t, http.MethodGet, "/api/analytics?search_term=gol", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Inventory []struct {
			SearchTerm string `json:"search_term"`
			Count      int    `json:"count"`
		} `json:"inventory"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Inventory) != 1 || resp.Inventory[0].Count != 2 {
		t.Fatalf("inventory = %+v", resp.Inventory)
	}

	if w := env.do(t, http.MethodGet, "/api/analytics?exchange_rate=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad rate: status = %d, want 400", w.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env, "gol", "MLA1", "2026-08-31", 19000)
	seedListing(t, env, "gol", "MLA1", "2026-09-01", 20000)
	seedListing(t, env, "gol", "MLA2", "2026-09-01", 24000)

	w := env.do(t, http.MethodGet, "/api/export?search_term=gol", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if disposition := w.Header().Get("Content-Disposition"); !strings.Contains(disposition, "mercado_libre_gol.csv") {
		t.Fatalf("content disposition = %q", disposition)
	}

	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// Header plus the two latest-day snapshots; the older day is excluded.
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for _, row := range rows[1:] {
		if row[2] != "2026-09-01" {
			t.Fatalf("exported row from %q, want latest day only", row[2])
		}
	}

	if w := env.do(t, http.MethodGet, "/api/export", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing term: status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/export?search_term=unknown", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown term: status = %d, want 404", w.Code)
	}
}

func TestExportSanitizesTermFilename(t *testing.T) {
	env := newTestEnv(t)
	term := "x/../../evil"
	seedListing(t, env, term, "MLA1", "2026-09-01", 20000)

	w := env.do(t, http.MethodGet, "/api/export?search_term="+url.QueryEscape(term), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if disposition := w.Header().Get("Content-Disposition"); strings.Contains(disposition, "/") || strings.Contains(disposition, "..") {
		t.Fatalf("content disposition carries path segments: %q", disposition)
	}

	// The file must land inside the output directory, never above it.
	if _, err := os.Stat(filepath.Join(env.cfg.OutputDir, "..", "evil.csv")); !os.IsNotExist(err) {
		t.Fatalf("export escaped the output directory")
	}
	entries, err := os.ReadDir(env.cfg.OutputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "mercado_libre_") {
		t.Fatalf("output dir entries = %v", entries)
	}
}

func TestExportJSONFormat(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env, "gol", "MLA1", "2026-09-01", 20000)

	w := env.do(t, http.MethodGet, "/api/export?search_term=gol&format=json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if disposition := w.Header().Get("Content-Disposition"); !strings.Contains(disposition, "mercado_libre_gol.jsonl") {
		t.Fatalf("content disposition = %q", disposition)
	}

	var rec models.ListingRecord
	if err := json.Unmarshal(bytes.TrimSpace(w.Body.Bytes()), &rec); err != nil {
		t.Fatalf("decode jsonl: %v", err)
	}
	if rec.ListingID != "MLA1" || rec.PriceAmount != 20000 {
		t.Fatalf("record = %s/%d, want MLA1/20000", rec.ListingID, rec.PriceAmount)
	}

	if w := env.do(t, http.MethodGet, "/api/export?search_term=gol&format=xml", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad format: status = %d, want 400", w.Code)
	}
}

func TestScrapeExportsDuringPersist(t *testing.T) {
	env := newTestEnv(t)
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_1", htmlResponder(listingPage(101, 102)))
	env.transport.RegisterResponder("GET", "http://example.test/gol_Desde_49", httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := env.do(t, http.MethodPost, "/api/scrape", gin.H{"search_term": "gol", "export": "csv"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		ExportFile string `json:"export_file"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExportFile != "mercado_libre_gol.csv" {
		t.Fatalf("export file = %q", resp.ExportFile)
	}

	data, err := os.ReadFile(filepath.Join(env.cfg.OutputDir, resp.ExportFile))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// Header plus the two crawled records, persisted and exported in
	// the same pass.
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if env.store.Len() != 2 {
		t.Fatalf("stored = %d, want 2", env.store.Len())
	}

	w = env.do(t, http.MethodPost, "/api/scrape", gin.H{"search_term": "gol", "export": "yaml"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad export format: status = %d, want 400", w.Code)
	}
}

func TestResetEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env, "gol", "MLA1", "2026-09-01", 20000)

	w := env.do(t, http.MethodPost, "/api/reset", gin.H{})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.store.Len() != 0 {
		t.Fatalf("store not emptied")
	}

	w = env.do(t, http.MethodPost, "/api/reset", gin.H{"seed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("seed status = %d", w.Code)
	}
	var resp struct {
		Seeded int `json:"seeded"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Seeded != 3 || env.store.Len() != 3 {
		t.Fatalf("seeded = %d, stored = %d, want 3/3", resp.Seeded, env.store.Len())
	}
}
