package sim

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/record-encryption/internal/authority"
	"github.com/kenneth/record-encryption/internal/crypto"
)

// Server exposes the simulator over the authority's HTTP/JSON surface, plus
// grant management for driving shared-access scenarios.
type Server struct {
	sim    *Simulator
	logger *logrus.Logger
}

// NewServer wraps a simulator for HTTP serving.
func NewServer(sim *Simulator, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{sim: sim, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/verification-key/{kind}", s.handleVerificationKey).Methods(http.MethodGet)
	r.HandleFunc("/v1/envelope", s.handleEnvelope).Methods(http.MethodPost)
	r.HandleFunc("/v1/grants", s.handleShare).Methods(http.MethodPost)
	r.HandleFunc("/v1/grants", s.handleRevoke).Methods(http.MethodDelete)
	return r
}

func (s *Server) handleVerificationKey(w http.ResponseWriter, r *http.Request) {
	kind := crypto.ScopeKind(mux.Vars(r)["kind"])
	key, err := s.sim.VerificationKey(kind)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown_scope_kind", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"verification_key": key})
}

type envelopeRequest struct {
	ScopeKind          string `json:"scope_kind"`
	TransportPublicKey string `json:"transport_public_key"`
	RecordID           string `json:"record_id"`
	Owner              string `json:"owner"`
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	caller := crypto.Identity(r.Header.Get("X-Caller-Identity"))
	if caller == "" {
		s.writeError(w, http.StatusUnauthorized, "authentication_required", errors.New("missing caller identity"))
		return
	}

	var req envelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed_request", err)
		return
	}
	transportPub, err := hex.DecodeString(req.TransportPublicKey)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_transport_key", err)
		return
	}

	var scope crypto.Scope
	switch crypto.ScopeKind(req.ScopeKind) {
	case crypto.ScopeKindOwn:
		scope = crypto.OwnScope(caller)
	case crypto.ScopeKindShared:
		scope = crypto.SharedScope(req.RecordID, crypto.Identity(req.Owner))
	default:
		s.writeError(w, http.StatusBadRequest, "unknown_scope_kind", errors.New("scope_kind must be own or shared"))
		return
	}

	envelope, err := s.sim.IssueEnvelope(caller, scope, transportPub)
	if err != nil {
		if errors.Is(err, authority.ErrPermissionDenied) {
			s.writeError(w, http.StatusForbidden, "not_shared", err)
			return
		}
		s.writeError(w, http.StatusBadRequest, "issuance_failed", err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"caller":     caller,
		"scope_kind": scope.Kind,
	}).Debug("issued key envelope")
	s.writeJSON(w, http.StatusOK, map[string]string{"envelope": envelope})
}

type grantRequest struct {
	RecordID string `json:"record_id"`
	Owner    string `json:"owner"`
	Grantee  string `json:"grantee"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGrant(w, r)
	if !ok {
		return
	}
	s.sim.Share(req.RecordID, crypto.Identity(req.Owner), crypto.Identity(req.Grantee))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "shared"})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGrant(w, r)
	if !ok {
		return
	}
	s.sim.Revoke(req.RecordID, crypto.Identity(req.Owner), crypto.Identity(req.Grantee))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) decodeGrant(w http.ResponseWriter, r *http.Request) (grantRequest, bool) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed_request", err)
		return req, false
	}
	if req.RecordID == "" || req.Owner == "" || req.Grantee == "" {
		s.writeError(w, http.StatusBadRequest, "malformed_request", errors.New("record_id, owner and grantee are required"))
		return req, false
	}
	return req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	s.writeJSON(w, status, map[string]string{"code": code, "message": err.Error()})
}
