package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/viva/internal/media"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/viva"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	viva     *viva.Orchestrator
	media    *media.Store
	config   model.ServerConfig
	validate *validator.Validate
}

// New creates a new Handler.
func New(s *store.Store, o *viva.Orchestrator, m *media.Store, cfg model.ServerConfig) (*Handler, error) {
	return &Handler{
		store:    s,
		viva:     o,
		media:    m,
		config:   cfg,
		validate: validator.New(),
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/auth/logout", h.handleLogout)
			r.Get("/users/me", h.handleMe)
			r.With(requireRole(model.UserRoleAdmin)).Post("/users", h.handleCreateUser)

			r.Get("/assignments", h.handleListAssignments)
			r.Get("/assignments/{assignmentID}", h.handleGetAssignment)
			r.With(requireRole(model.UserRoleTeacher, model.UserRoleAdmin)).
				Post("/assignments", h.handleCreateAssignment)
			r.With(requireRole(model.UserRoleTeacher, model.UserRoleAdmin)).
				Post("/assignments/import", h.handleImportAssignments)
			r.With(requireRole(model.UserRoleStudent)).
				Post("/assignments/{assignmentID}/submissions", h.handleCreateSubmission)
			r.Get("/submissions", h.handleListSubmissions)
			r.Get("/submissions/{submissionID}", h.handleGetSubmission)
			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStudent))
				r.Put("/submissions/{submissionID}", h.handleUpdateSubmission)
				r.Post("/submissions/{submissionID}/submit", h.handleSubmitSubmission)
				r.Post("/submissions/{submissionID}/media", h.handleSubmissionMedia)
			})

			r.With(requireRole(model.UserRoleStudent)).Post("/viva/mock-questions", h.handleMockQuestions)
			r.Route("/viva/sessions", func(r chi.Router) {
				r.Get("/", h.handleListSessions)
				r.With(requireRole(model.UserRoleStudent)).Post("/", h.handleStartSession)
				r.Get("/{sessionID}", h.handleGetSession)
				r.With(requireRole(model.UserRoleStudent)).Post("/{sessionID}/respond", h.handleRespond)
				r.Post("/{sessionID}/abandon", h.handleAbandon)

				r.Group(func(r chi.Router) {
					r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
					r.Post("/{sessionID}/override", h.handleOverride)
					r.Post("/{sessionID}/answers/{seq}/override", h.handleOverrideAnswer)
					r.Get("/{sessionID}/llm-calls", h.handleListLLMCalls)
				})
			})

			r.Get("/media/{mediaID}", h.handleMedia)
			r.Get("/media/{mediaID}/transcript", h.handleTranscript)
			r.Delete("/media/{mediaID}", h.handleDeleteMedia)
		})
	})

	r.With(h.requireAuth, requireRole(model.UserRoleTeacher, model.UserRoleAdmin)).
		Get("/review/{sessionID}", h.handleReviewPage)
}

// BasePathMiddleware injects the configured base path into the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path returns an absolute path with the base path prefix.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
