// Package server exposes the ledger contracts over a JSON invoke surface.
//
// The invocation shape is uniform across contracts: a named function plus an
// ordered list of string arguments, the same envelope the platform SDK
// submits. Query-only functions never mutate state.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nainya/custodyledger/internal/logger"
	"github.com/nainya/custodyledger/internal/metrics"
	"github.com/nainya/custodyledger/pkg/evidence"
	"github.com/nainya/custodyledger/pkg/flmodel"
	"github.com/nainya/custodyledger/pkg/ledger"
	"github.com/nainya/custodyledger/pkg/watchlist"
)

// Server routes invoke and query requests to the three ledger contracts.
type Server struct {
	evidence  *evidence.Contract
	watchlist *watchlist.Contract
	flmodel   *flmodel.Contract
	hub       *EventHub
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// NewServer creates the HTTP server over the given contracts.
func NewServer(
	ev *evidence.Contract,
	wl *watchlist.Contract,
	fl *flmodel.Contract,
	hub *EventHub,
	log *logger.Logger,
	m *metrics.Metrics,
) *Server {
	return &Server{
		evidence:  ev,
		watchlist: wl,
		flmodel:   fl,
		hub:       hub,
		log:       log,
		metrics:   m,
	}
}

// Router builds the chi router for the invoke surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestMiddleware(s.metrics, s.log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "custodyledger"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Post("/contracts/{contract}/invoke", s.handleInvoke)

		api.Get("/evidence/{eventId}", s.handleQueryEvidence)
		api.Get("/evidence/{eventId}/history", s.handleEvidenceHistory)
		api.Post("/evidence/{eventId}/verify", s.handleVerifyEvidence)

		api.Get("/watchlist/{personId}", s.handleQueryPerson)
		api.Get("/watchlist", s.handleListActive)

		api.Get("/models/latest", s.handleLatestModel)
		api.Get("/models/{epoch}", s.handleQueryModel)

		if s.hub != nil {
			api.Get("/events", s.hub.ServeHTTP)
		}
	})

	return r
}

// invokeRequest is the uniform envelope: function name plus ordered string
// arguments, JSON blobs passed as strings.
type invokeRequest struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	contract := chi.URLParam(r, "contract")

	var req invokeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	result, err := s.dispatch(contract, req.Function, req.Args)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) dispatch(contract, function string, args []string) (any, error) {
	switch contract {
	case evidence.ContractName:
		return s.dispatchEvidence(function, args)
	case watchlist.ContractName:
		return s.dispatchWatchlist(function, args)
	case flmodel.ContractName:
		return s.dispatchModel(function, args)
	default:
		return nil, fmt.Errorf("%w: unknown contract %q", ledger.ErrMalformedInput, contract)
	}
}

func (s *Server) dispatchEvidence(function string, args []string) (any, error) {
	switch function {
	case "RegisterEvidence":
		if err := wantArgs(args, 3); err != nil {
			return nil, err
		}
		var meta evidence.Metadata
		if err := decodeArg(args[2], &meta); err != nil {
			return nil, err
		}
		return s.evidence.Register(args[0], args[1], meta)

	case "QueryEvidence":
		if err := wantArgs(args, 1); err != nil {
			return nil, err
		}
		return s.evidence.Query(args[0])

	case "UpdateCustody":
		if err := wantArgs(args, 2); err != nil {
			return nil, err
		}
		var ev evidence.CustodyEvent
		if err := decodeArg(args[1], &ev); err != nil {
			return nil, err
		}
		return s.evidence.UpdateCustody(args[0], ev)

	case "GetEvidenceHistory":
		if err := wantArgs(args, 1); err != nil {
			return nil, err
		}
		return s.evidence.History(args[0])

	case "VerifyEvidence":
		if err := wantArgs(args, 2); err != nil {
			return nil, err
		}
		return s.evidence.Verify(args[0], args[1])

	default:
		return nil, fmt.Errorf("%w: unknown function %q", ledger.ErrMalformedInput, function)
	}
}

func (s *Server) dispatchWatchlist(function string, args []string) (any, error) {
	switch function {
	case "EnrollPerson":
		if err := wantArgs(args, 2); err != nil {
			return nil, err
		}
		var enrollment watchlist.Enrollment
		if err := decodeArg(args[1], &enrollment); err != nil {
			return nil, err
		}
		return s.watchlist.Enroll(args[0], enrollment)

	case "QueryPerson":
		if err := wantArgs(args, 1); err != nil {
			return nil, err
		}
		return s.watchlist.Query(args[0])

	case "UpdatePersonStatus":
		if err := wantArgs(args, 2); err != nil {
			return nil, err
		}
		active, err := strconv.ParseBool(args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: isActive: %v", ledger.ErrMalformedInput, err)
		}
		return s.watchlist.UpdateStatus(args[0], active)

	case "GetAllActivePersons":
		if err := wantArgs(args, 0); err != nil {
			return nil, err
		}
		return s.watchlist.ListActive()

	default:
		return nil, fmt.Errorf("%w: unknown function %q", ledger.ErrMalformedInput, function)
	}
}

func (s *Server) dispatchModel(function string, args []string) (any, error) {
	switch function {
	case "RegisterModelUpdate":
		if err := wantArgs(args, 2); err != nil {
			return nil, err
		}
		epoch, err := parseEpoch(args[0])
		if err != nil {
			return nil, err
		}
		var update struct {
			ModelHash     string          `json:"model_hash"`
			ClientUpdates json.RawMessage `json:"client_updates"`
		}
		if err := decodeArg(args[1], &update); err != nil {
			return nil, err
		}
		return s.flmodel.Register(epoch, update.ModelHash, update.ClientUpdates)

	case "QueryModelUpdate":
		if err := wantArgs(args, 1); err != nil {
			return nil, err
		}
		epoch, err := parseEpoch(args[0])
		if err != nil {
			return nil, err
		}
		return s.flmodel.Query(epoch)

	case "GetLatestModel":
		if err := wantArgs(args, 0); err != nil {
			return nil, err
		}
		return s.flmodel.Latest()

	default:
		return nil, fmt.Errorf("%w: unknown function %q", ledger.ErrMalformedInput, function)
	}
}

// ========== Query convenience routes ==========

func (s *Server) handleQueryEvidence(w http.ResponseWriter, r *http.Request) {
	rec, err := s.evidence.Query(chi.URLParam(r, "eventId"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, rec)
}

func (s *Server) handleEvidenceHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.evidence.History(chi.URLParam(r, "eventId"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, entries)
}

func (s *Server) handleVerifyEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	result, err := s.evidence.Verify(chi.URLParam(r, "eventId"), req.Hash)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) handleQueryPerson(w http.ResponseWriter, r *http.Request) {
	person, err := s.watchlist.Query(chi.URLParam(r, "personId"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, person)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	persons, err := s.watchlist.ListActive()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, persons)
}

func (s *Server) handleQueryModel(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseEpoch(chi.URLParam(r, "epoch"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	update, err := s.flmodel.Query(epoch)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, update)
}

func (s *Server) handleLatestModel(w http.ResponseWriter, r *http.Request) {
	update, err := s.flmodel.Latest()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeResult(w, update)
}

// ========== Argument helpers ==========

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: expected %d args, got %d", ledger.ErrMalformedInput, n, len(args))
	}
	return nil
}

// decodeArg decodes a JSON string argument with the same strictness as the
// request body: an unknown field is malformed input, never silently dropped.
func decodeArg(raw string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrMalformedInput, err)
	}
	return nil
}

func parseEpoch(raw string) (int64, error) {
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: epoch: %v", ledger.ErrMalformedInput, err)
	}
	return epoch, nil
}
