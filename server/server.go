// Package server exposes the crawl trigger and the query surface
// consumed by the presentation layer.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmaguirre/mercadoscan/analytics"
	"github.com/dmaguirre/mercadoscan/config"
	"github.com/dmaguirre/mercadoscan/scraper"
	"github.com/dmaguirre/mercadoscan/store"
)

// Server wires the crawler, the snapshot store, and the analytics engine
// behind the HTTP API.
type Server struct {
	cfg     *config.Config
	crawler *scraper.Crawler
	store   store.Store
	engine  *analytics.Engine
}

// New builds a server over the given collaborators.
func New(cfg *config.Config, crawler *scraper.Crawler, st store.Store) *Server {
	return &Server{
		cfg:     cfg,
		crawler: crawler,
		store:   st,
		engine:  analytics.NewEngine(st),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.crawler.Metrics.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.POST("/scrape", s.handleScrape)
		api.POST("/scrape-all", s.handleScrapeAll)
		api.POST("/history", s.handleHistory)
		api.GET("/terms", s.handleTerms)
		api.GET("/analytics", s.handleAnalytics)
		api.GET("/export", s.handleExport)
		api.POST("/reset", s.handleReset)
	}
	return r
}
