// Package api serves the scanner operations over HTTP under /api/scanner/.
package api

import (
	"context"
	"net/http"

	"github.com/yairfalse/surface/analyzer"
	"github.com/yairfalse/surface/inventory"
	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
)

// Prefix is the path every route lives under
const Prefix = "/api/scanner/"

// DefaultBodyLimit caps request bodies when Options leaves it unset
const DefaultBodyLimit = 10 << 20

// Inventory is the document surface the handlers drive
type Inventory interface {
	UploadResources(ctx context.Context, raw []map[string]any) (int, error)
	UploadRules(ctx context.Context, raw []map[string]any) (int, error)
	ListResources(ctx context.Context, req inventory.ListRequest) (*inventory.Page, error)
	ListRules(ctx context.Context, req inventory.ListRequest) (*inventory.Page, error)
	ListFindings(ctx context.Context, raw map[string]any) ([]types.Document, error)
	DeleteResources(ctx context.Context, raw map[string]any) (int, error)
	DeleteRules(ctx context.Context, raw map[string]any) (int, error)
}

// Scanner runs one scan pass
type Scanner interface {
	RunScan(ctx context.Context) (*types.ScanResult, error)
}

// Options configures a Server
type Options struct {
	BodyLimit int64
	Logger    *telemetry.Logger

	// Hub serves /events when set
	Hub *Hub
}

// Server binds the scanner operations to HTTP routes
type Server struct {
	inventory Inventory
	scanner   Scanner
	summaries analyzer.FindingAggregator
	hub       *Hub
	logger    *telemetry.Logger
	bodyLimit int64
	mux       *http.ServeMux
}

// NewServer creates a server and registers its routes
func NewServer(inv Inventory, scanner Scanner, summaries analyzer.FindingAggregator, opts Options) *Server {
	s := &Server{
		inventory: inv,
		scanner:   scanner,
		summaries: summaries,
		hub:       opts.Hub,
		logger:    opts.Logger,
		bodyLimit: opts.BodyLimit,
		mux:       http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = telemetry.NewNopLogger()
	}
	if s.bodyLimit <= 0 {
		s.bodyLimit = DefaultBodyLimit
	}
	s.registerRoutes()
	return s
}

// Handler returns the routes wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

func (s *Server) registerRoutes() {
	// Health check
	s.mux.HandleFunc("GET "+Prefix+"healthStatus", s.handleHealth)

	// Resources
	s.mux.HandleFunc("POST "+Prefix+"uploadResources", s.handleUploadResources)
	s.mux.HandleFunc("POST "+Prefix+"listResources", s.handleListResources)
	s.mux.HandleFunc("POST "+Prefix+"deleteResources", s.handleDeleteResources)

	// Rules
	s.mux.HandleFunc("POST "+Prefix+"uploadRules", s.handleUploadRules)
	s.mux.HandleFunc("POST "+Prefix+"listRules", s.handleListRules)
	s.mux.HandleFunc("POST "+Prefix+"deleteRules", s.handleDeleteRules)

	// Findings
	s.mux.HandleFunc("GET "+Prefix+"findings", s.handleFindings)

	// Scanning
	s.mux.HandleFunc("GET "+Prefix+"scanResources", s.handleScan)
	s.mux.HandleFunc("POST "+Prefix+"scanResources", s.handleScan)

	// Analytics
	s.mux.HandleFunc("GET "+Prefix+"getSeverityStatus", s.handleSeverity)
	s.mux.HandleFunc("GET "+Prefix+"getIssuesBasedOnResourceTypes", s.handleResourceTypes)
	s.mux.HandleFunc("GET "+Prefix+"getIssuesByResourceType", s.handleResourceTypes)
	s.mux.HandleFunc("GET "+Prefix+"getIssuesBasedOnRegions", s.handleRegions)
	s.mux.HandleFunc("GET "+Prefix+"getIssuesByRegion", s.handleRegions)

	// WebSocket
	if s.hub != nil {
		s.mux.HandleFunc("GET "+Prefix+"events", s.hub.ServeHTTP)
	}
}
