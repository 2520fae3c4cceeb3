// Package api is the inbound surface of the operator: clients announce and
// withdraw route requests, the certificate authority delivers and revokes TLS
// material, and operators read status. Handlers never resolve or apply
// config themselves: they mutate state and enqueue triggers, preserving the
// reconcile loop's single-writer discipline.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/ingress-operator/internal/apierrors"
	"github.com/wudi/ingress-operator/internal/certs"
	"github.com/wudi/ingress-operator/internal/metrics"
	"github.com/wudi/ingress-operator/internal/reconciler"
	"github.com/wudi/ingress-operator/internal/registry"
	"github.com/wudi/ingress-operator/internal/relation"
)

// maxBodySize bounds relation and certificate payloads.
const maxBodySize = 1 << 20

// Options wires the server's collaborators.
type Options struct {
	Registry *registry.Registry
	Parser   *relation.Parser
	Certs    *certs.Manager
	Loop     *reconciler.Loop
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// TLSEnabled reports the current tls.enabled config flag.
	TLSEnabled func() bool
}

// Server handles the admin/relations HTTP API.
type Server struct {
	opts   Options
	router *httprouter.Router
}

// NewServer builds the route table.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{opts: opts, router: httprouter.New()}

	s.router.PUT("/v1/relations/:client", s.putRelation)
	s.router.DELETE("/v1/relations/:client", s.deleteRelation)
	s.router.POST("/v1/certificates", s.postCertificate)
	s.router.DELETE("/v1/certificates", s.deleteCertificate)
	s.router.GET("/v1/status", s.getStatus)
	s.router.GET("/v1/routes", s.getRoutes)
	s.router.GET("/healthz", s.healthz)
	if opts.Metrics != nil {
		s.router.Handler(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// putRelation records a client's announced route request. Malformed payloads
// are stored as invalid entries so status can report the offending client,
// without affecting anyone else's routes.
func (s *Server) putRelation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	clientID := ps.ByName("client")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		apierrors.Wrap(err, http.StatusBadRequest, "read body").WriteJSON(w)
		return
	}

	req, err := s.opts.Parser.Parse(clientID, body)
	if err != nil {
		var malformed *relation.MalformedRequestError
		if errors.As(err, &malformed) {
			s.opts.Logger.Warn("Malformed route request",
				zap.String("client", clientID),
				zap.String("reason", malformed.Reason),
			)
			// Keep a flagged entry so the engine can report the client.
			s.opts.Registry.Upsert(registry.RouteRequest{
				ClientID: clientID,
				Invalid:  malformed.Reason,
			})
			s.opts.Loop.Enqueue(reconciler.Trigger{
				Kind:   reconciler.TriggerRouteRequest,
				Reason: "malformed announce from " + clientID,
			})
			apierrors.ErrUnprocessable.WithDetails(malformed.Reason).WriteJSON(w)
			return
		}
		apierrors.Wrap(err, http.StatusInternalServerError, "parse route request").WriteJSON(w)
		return
	}

	s.opts.Registry.Upsert(req)
	s.opts.Loop.Enqueue(reconciler.Trigger{
		Kind:   reconciler.TriggerRouteRequest,
		Reason: "announce from " + clientID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// deleteRelation handles relation departure. Deletion is an explicit
// reconciliation trigger, never a lazy no-op.
func (s *Server) deleteRelation(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	clientID := ps.ByName("client")
	s.opts.Registry.Remove(clientID)
	s.opts.Loop.Enqueue(reconciler.Trigger{
		Kind:   reconciler.TriggerRouteRequest,
		Reason: "departure of " + clientID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type certificatePayload struct {
	Chain    string `json:"chain"`
	Key      string `json:"key"`
	Hostname string `json:"hostname"`
}

func (s *Server) postCertificate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.opts.TLSEnabled != nil && !s.opts.TLSEnabled() {
		apierrors.ErrConflict.WithDetails("TLS is disabled by configuration").WriteJSON(w)
		return
	}

	var payload certificatePayload
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		apierrors.Wrap(err, http.StatusBadRequest, "read body").WriteJSON(w)
		return
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apierrors.Wrap(err, http.StatusBadRequest, "decode certificate payload").WriteJSON(w)
		return
	}

	err = s.opts.Certs.SetCertificate([]byte(payload.Chain), []byte(payload.Key), payload.Hostname)
	if err != nil {
		var invalid *certs.InvalidCertificateError
		if errors.As(err, &invalid) {
			s.opts.Logger.Warn("Rejected certificate", zap.String("reason", invalid.Reason))
			apierrors.ErrUnprocessable.WithDetails(invalid.Reason).WriteJSON(w)
			return
		}
		apierrors.Wrap(err, http.StatusInternalServerError, "install certificate").WriteJSON(w)
		return
	}

	s.opts.Loop.Enqueue(reconciler.Trigger{
		Kind:   reconciler.TriggerCertificate,
		Reason: "certificate for " + payload.Hostname,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteCertificate(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.opts.Certs.Revoke()
	s.opts.Loop.Enqueue(reconciler.Trigger{
		Kind:   reconciler.TriggerCertificate,
		Reason: "certificate revoked",
	})
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Status   string          `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Routes   int             `json:"routes"`
	Warnings []statusWarning `json:"warnings,omitempty"`
	Waiting  []string        `json:"waiting,omitempty"`
	TLS      *statusTLS      `json:"tls,omitempty"`
	LastPass *statusPass     `json:"last_pass,omitempty"`
}

type statusWarning struct {
	Client string `json:"client"`
	Reason string `json:"reason"`
}

type statusTLS struct {
	Hostname      string    `json:"hostname"`
	NotAfter      time.Time `json:"not_after"`
	CAFingerprint string    `json:"ca_fingerprint"`
}

type statusPass struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	st := s.opts.Loop.Status()

	resp := statusResponse{
		Status:  string(st.Kind),
		Reason:  st.Reason,
		Routes:  st.Routes,
		Waiting: st.Waiting,
	}
	for _, warning := range st.Warnings {
		resp.Warnings = append(resp.Warnings, statusWarning{
			Client: warning.ClientID,
			Reason: warning.Reason,
		})
	}
	if state, ok := s.opts.Certs.Current(); ok {
		resp.TLS = &statusTLS{
			Hostname:      state.Hostname,
			NotAfter:      state.NotAfter,
			CAFingerprint: state.CAFingerprint,
		}
	}
	if st.LastPassID != "" {
		resp.LastPass = &statusPass{ID: st.LastPassID, Time: st.LastPassTime}
	}

	writeJSON(w, resp)
}

type routeResponse struct {
	ID         string   `json:"id"`
	Client     string   `json:"client"`
	Host       string   `json:"host,omitempty"`
	PathPrefix string   `json:"path_prefix,omitempty"`
	Backends   []string `json:"backends"`
}

func (s *Server) getRoutes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	cfg := s.opts.Loop.LastResolved()
	routes := []routeResponse{}
	if cfg != nil {
		for _, rule := range cfg.Rules {
			routes = append(routes, routeResponse{
				ID:         rule.ID,
				Client:     rule.ClientID,
				Host:       rule.Host,
				PathPrefix: rule.PathPrefix,
				Backends:   rule.Backends,
			})
		}
	}
	writeJSON(w, routes)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
