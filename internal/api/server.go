package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kpellas/iris-assist/internal/gateway"
	"github.com/kpellas/iris-assist/internal/intent"
	"github.com/kpellas/iris-assist/internal/services"
)

type Server struct {
	protocolSvc  *services.ProtocolService
	engine       *services.RunEngine
	intentRouter *intent.Router
	schedulerSvc *services.SchedulerService
	displayHub   *gateway.DisplayHub
}

func NewServer(protocolSvc *services.ProtocolService, engine *services.RunEngine, intentRouter *intent.Router) *Server {
	return &Server{
		protocolSvc:  protocolSvc,
		engine:       engine,
		intentRouter: intentRouter,
	}
}

// SetSchedulerService enables the schedule endpoints.
func (s *Server) SetSchedulerService(svc *services.SchedulerService) {
	s.schedulerSvc = svc
}

// SetDisplayHub enables the event stream and display endpoints.
func (s *Server) SetDisplayHub(hub *gateway.DisplayHub) {
	s.displayHub = hub
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/protocols", func(r chi.Router) {
			r.Post("/", s.upsertProtocol)
			r.Get("/", s.listProtocols)
			r.Get("/{name}", s.getProtocol)
			r.Delete("/{name}", s.deleteProtocol)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/", s.listRuns)
			r.Get("/active", s.getActiveRun)
			r.Post("/cancel", s.cancelActiveRun)
			r.Get("/{id}", s.getRun)
			r.Post("/{id}/advance", s.advanceRun)
		})
		r.Post("/intents", s.handleIntent)
		r.Get("/events", s.streamEvents)
		r.Route("/display", func(r chi.Router) {
			r.Get("/", s.getDisplayState)
			r.Get("/ws", s.displaySocket)
		})
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.createSchedule)
			r.Get("/", s.listSchedules)
			r.Get("/{id}", s.getSchedule)
			r.Put("/{id}", s.updateSchedule)
			r.Delete("/{id}", s.deleteSchedule)
			r.Post("/{id}/pause", s.pauseSchedule)
			r.Post("/{id}/resume", s.resumeSchedule)
			r.Post("/{id}/trigger", s.triggerSchedule)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
