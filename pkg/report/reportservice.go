package report

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/microservice"
	"github.com/illmade-knight/go-diwane/pkg/pagination"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

// Backend is what the HTTP service reads from. *client.Client satisfies it.
type Backend interface {
	Source
	Paginate(c types.Collection, page, pageSize int) pagination.Page[types.Record]
}

// ServiceConfig holds the settings of the report service.
type ServiceConfig struct {
	HTTPPort string
}

// ReportService exposes reports and paginated collections as JSON over HTTP.
type ReportService struct {
	*microservice.BaseServer
	backend  Backend
	reporter *Reporter
	logger   zerolog.Logger
}

// NewReportService builds the service and registers its routes.
func NewReportService(cfg *ServiceConfig, backend Backend, logger zerolog.Logger) (*ReportService, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	reporter, err := NewReporter(backend, logger)
	if err != nil {
		return nil, err
	}
	s := &ReportService{
		BaseServer: microservice.NewBaseServer(logger, cfg.HTTPPort),
		backend:    backend,
		reporter:   reporter,
		logger:     logger.With().Str("component", "ReportService").Logger(),
	}

	r := s.Router()
	r.Get("/collections/{collection}", s.handleCollection)
	r.Route("/users/{userID}", func(ur chi.Router) {
		ur.Get("/dashboard", s.handleDashboard)
		ur.Get("/participation", s.handleParticipation)
	})
	return s, nil
}

func (s *ReportService) handleCollection(w http.ResponseWriter, r *http.Request) {
	coll, err := types.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		microservice.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil {
		microservice.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := intParam(r, "pageSize", 0)
	if err != nil {
		microservice.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.backend.Load(r.Context(), coll); err != nil {
		s.logger.Error().Err(err).Str("collection", string(coll)).Msg("Failed to load collection.")
		microservice.WriteError(w, http.StatusBadGateway, "failed to load collection")
		return
	}
	p := s.backend.Paginate(coll, page, pageSize)
	p.Items = types.PublicList(p.Items)
	microservice.WriteJSON(w, http.StatusOK, p)
}

func (s *ReportService) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := s.viewer(w, r)
	if !ok {
		return
	}
	d, err := s.reporter.Dashboard(r.Context(), user)
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	microservice.WriteJSON(w, http.StatusOK, d)
}

func (s *ReportService) handleParticipation(w http.ResponseWriter, r *http.Request) {
	user, ok := s.viewer(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := Filter{Diwane: types.ID(q.Get("diwane")), Evenement: types.ID(q.Get("evenement"))}
	p, err := s.reporter.Participation(r.Context(), user, f)
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	microservice.WriteJSON(w, http.StatusOK, p)
}

func (s *ReportService) viewer(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	user, err := s.reporter.Viewer(r.Context(), types.ID(chi.URLParam(r, "userID")))
	if err != nil {
		s.writeReportError(w, err)
		return types.User{}, false
	}
	return user, true
}

func (s *ReportService) writeReportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownUser):
		microservice.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		microservice.WriteError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Report failed.")
		microservice.WriteError(w, http.StatusBadGateway, "failed to build report")
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
