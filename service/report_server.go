package service

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-steplog/metrics"
	"github.com/ethereum-optimism/infra/op-steplog/reporting"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// ReportServer serves the combined report, the step trees and attachments
// of one output directory. Files are read on every request so a merge that
// lands while serving is picked up.
type ReportServer struct {
	store *store.Store
	log   log.Logger
}

func NewReportServer(s *store.Store, logger log.Logger) *ReportServer {
	if logger == nil {
		logger = log.Root()
	}
	return &ReportServer{store: s, log: logger}
}

// Handler returns the HTTP routes of the server
func (rs *ReportServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/report", rs.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/summary", rs.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/steps/{id}", rs.handleSteps).Methods(http.MethodGet)
	r.PathPrefix("/attachments/").Methods(http.MethodGet).Handler(http.StripPrefix("/attachments/",
		http.FileServer(http.Dir(rs.store.Dirs().AttachmentsDir))))
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

func (rs *ReportServer) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := rs.store.LoadCombined()
	if err != nil {
		rs.fail(w, "report", err)
		return
	}
	rs.writeJSON(w, report)
}

func (rs *ReportServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	report, err := rs.store.LoadCombined()
	if err != nil {
		rs.fail(w, "summary", err)
		return
	}
	showTests := r.URL.Query().Get("tests") == "true"
	text, err := reporting.NewSummaryFormatter(reporting.SummaryTitle(report), showTests, true).Format(report)
	if err != nil {
		rs.fail(w, "summary", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text)) //nolint:errcheck
}

func (rs *ReportServer) handleSteps(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !strings.HasPrefix(id, types.StepTreeIDPrefix) {
		http.Error(w, "unknown step tree id", http.StatusBadRequest)
		return
	}
	tree, err := rs.store.LoadSteps(id)
	if err != nil {
		rs.fail(w, "steps", err)
		return
	}
	rs.writeJSON(w, tree)
}

func (rs *ReportServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rs.log.Warn("Failed to write response", "err", err)
	}
}

func (rs *ReportServer) fail(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	rs.log.Error("Failed to load "+what, "err", err)
	metrics.RecordErrorDetails("serve_"+what, err)
	http.Error(w, "failed to load "+what, http.StatusInternalServerError)
}
