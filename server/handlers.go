package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dmaguirre/mercadoscan/models"
	"github.com/dmaguirre/mercadoscan/parser"
	"github.com/dmaguirre/mercadoscan/pipeline"
	"github.com/dmaguirre/mercadoscan/scraper"
	"github.com/dmaguirre/mercadoscan/store"
)

type scrapeRequest struct {
	SearchTerm      string  `json:"search_term" binding:"required"`
	ExchangeRate    float64 `json:"exchange_rate"`
	DisplayCurrency string  `json:"display_currency"`
	Export          string  `json:"export"`
}

type scrapeResponse struct {
	SearchTerm   string                  `json:"search_term"`
	StopReason   string                  `json:"stop_reason"`
	PageCount    int                     `json:"page_count"`
	RequestCount int                     `json:"request_count"`
	SkippedItems int                     `json:"skipped_items"`
	RecordCount  int                     `json:"record_count"`
	Records      []*models.ListingRecord `json:"records"`
	Logs         []string                `json:"logs"`
	ExportFile   string                  `json:"export_file,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleScrape runs one synchronous crawl, persists the snapshots, tags
// variations against the prior day, and returns the result set with the
// operator log attached. Display conversion never touches stored values.
func (s *Server) handleScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target, err := displayCurrency(req.DisplayCurrency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var export pipeline.OutputWriter
	var exportName string
	if req.Export != "" {
		export, exportName, err = s.exportWriter(req.SearchTerm, req.Export)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sink := scraper.NewBufferSink()
	result, err := s.crawler.Run(c.Request.Context(), req.SearchTerm, sink)
	if err != nil {
		if export != nil {
			_ = export.Close()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.persist(c, result.Records, export); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"logs":  sink.Lines(),
		})
		return
	}

	if err := s.engine.TagVariations(c.Request.Context(), result.Records); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "logs": sink.Lines()})
		return
	}

	c.JSON(http.StatusOK, scrapeResponse{
		SearchTerm:   result.SearchTerm,
		StopReason:   result.StopReason,
		PageCount:    result.PageCount,
		RequestCount: result.RequestCount,
		SkippedItems: result.SkippedItems,
		RecordCount:  len(result.Records),
		Records:      displayRecords(result.Records, target, req.ExchangeRate),
		Logs:         sink.Lines(),
		ExportFile:   exportName,
	})
}

// handleScrapeAll crawls every known search term sequentially.
func (s *Server) handleScrapeAll(c *gin.Context) {
	terms, err := s.store.DistinctSearchTerms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if len(terms) == 0 {
		c.JSON(http.StatusOK, gin.H{"crawled": 0, "results": []gin.H{}})
		return
	}

	sink := scraper.NewBufferSink()
	results, err := s.crawler.RunAll(c.Request.Context(), terms, sink)
	summaries := make([]gin.H, 0, len(results))
	for _, result := range results {
		if perr := s.persist(c, result.Records, nil); perr != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": perr.Error(), "logs": sink.Lines()})
			return
		}
		summaries = append(summaries, gin.H{
			"search_term": result.SearchTerm,
			"stop_reason": result.StopReason,
			"records":     len(result.Records),
			"pages":       result.PageCount,
		})
	}
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"crawled": len(results), "results": summaries, "stopped": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"crawled": len(results), "results": summaries, "logs": sink.Lines()})
}

type historyRequest struct {
	SearchTerm string `json:"search_term" binding:"required"`
	ListingID  string `json:"listing_id" binding:"required"`
}

func (s *Server) handleHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points, err := s.engine.ListingHistory(c.Request.Context(), req.SearchTerm, req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": points})
}

func (s *Server) handleTerms(c *gin.Context) {
	terms, err := s.store.DistinctSearchTerms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"terms": terms})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	term := c.Query("search_term")
	rate := 0.0
	if raw := c.Query("exchange_rate"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exchange_rate"})
			return
		}
		rate = parsed
	}

	report, err := s.engine.Report(c.Request.Context(), term, rate)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleExport writes the latest snapshot day of a term to CSV and
// serves it as a download.
func (s *Server) handleExport(c *gin.Context) {
	term := c.Query("search_term")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search_term is required"})
		return
	}

	records, err := s.store.FindAll(c.Request.Context(), store.Filter{SearchTerm: term})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshots for term"})
		return
	}

	// FindAll is date-ascending; keep only the newest day.
	latest := records[len(records)-1].SnapshotDate
	var newest []*models.ListingRecord
	for _, rec := range records {
		if rec.SnapshotDate == latest {
			newest = append(newest, rec)
		}
	}

	writer, name, err := s.exportWriter(term, c.DefaultQuery("format", "csv"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := writer.Write(newest); err != nil {
		_ = writer.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := writer.Close(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.FileAttachment(filepath.Join(s.cfg.OutputDir, name), name)
}

// exportFileName builds a download name from a search term. Anything
// outside letters, digits and dashes collapses to an underscore, so a
// stored term cannot smuggle path segments into the output directory.
func exportFileName(term, ext string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, term)
	return fmt.Sprintf("mercado_libre_%s.%s", safe, ext)
}

// exportWriter opens a writer for the requested export format under the
// configured output directory and reports the file name it serves.
func (s *Server) exportWriter(term, format string) (pipeline.OutputWriter, string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		name := exportFileName(term, "csv")
		w, err := pipeline.NewCSVWriter(filepath.Join(s.cfg.OutputDir, name))
		return w, name, err
	case "json":
		name := exportFileName(term, "jsonl")
		w, err := pipeline.NewJSONWriter(filepath.Join(s.cfg.OutputDir, name))
		return w, name, err
	}
	return nil, "", fmt.Errorf("export format must be csv or json")
}

type resetRequest struct {
	Seed bool `json:"seed"`
}

func (s *Server) handleReset(c *gin.Context) {
	var req resetRequest
	_ = c.ShouldBindJSON(&req)

	if req.Seed {
		inserted, err := store.Seed(c.Request.Context(), s.store)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": true, "seeded": inserted})
		return
	}

	if err := s.store.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// persist pushes crawl records through the validation/dedupe pipeline
// into the snapshot store. Store failures abort the request.
// persist runs records through the dedupe pipeline into the snapshot
// store. A non-nil export writer is mirrored alongside the store, so a
// crawl can persist and export its records in a single pass.
func (s *Server) persist(c *gin.Context, records []*models.ListingRecord, export pipeline.OutputWriter) error {
	writer := pipeline.OutputWriter(pipeline.NewSnapshotWriter(c.Request.Context(), s.store))
	if export != nil {
		writer = pipeline.NewDualWriter(writer, export)
	}
	if len(records) == 0 {
		return writer.Close()
	}

	p, err := pipeline.NewPipeline(writer, s.cfg.DedupeMaxSize)
	if err != nil {
		return err
	}
	p.Start(1)
	if err := p.Process(records); err != nil {
		_ = p.Close()
		_ = writer.Close()
		return err
	}
	if err := p.Close(); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func displayCurrency(raw string) (models.Currency, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case "USD":
		return models.CurrencyUSD, nil
	case "ARS":
		return models.CurrencyARS, nil
	}
	return "", fmt.Errorf("display_currency must be USD or ARS")
}

// displayRecords applies the optional display-time conversion on copies;
// the stored amounts and currencies stay as observed.
func displayRecords(records []*models.ListingRecord, target models.Currency, rate float64) []*models.ListingRecord {
	if target == "" || rate <= 0 {
		return records
	}

	out := make([]*models.ListingRecord, len(records))
	for i, rec := range records {
		clone := *rec
		if clone.Currency != models.CurrencyUnknown {
			clone.PriceAmount = parser.ConvertAmount(rec.PriceAmount, rec.Currency, target, rate)
			clone.Currency = target
			clone.PriceRaw = parser.FormatPrice(clone.PriceAmount, target)
		}
		out[i] = &clone
	}
	return out
}
