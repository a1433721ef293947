/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/students/*      Student directory and billing views
  /api/sections/*      Class sections with weekly slots
  /api/enrollments/*   Enrollment lifecycle and conflict checks
  /api/invoices/*      Invoice CRUD and settlement
  /api/admin/*         Accrual job trigger, run history, audit log
  /api/calendar/*      Holiday and business-day utilities

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Get("/{id}/invoices", h.GetStudentInvoices)
			r.Get("/{id}/enrollments", h.GetStudentEnrollments)
		})

		// Section routes
		r.Route("/sections", func(r chi.Router) {
			r.Get("/", h.ListSections)
			r.Post("/", h.CreateSection)
			r.Get("/{id}", h.GetSection)
		})

		// Enrollment routes
		r.Route("/enrollments", func(r chi.Router) {
			r.Post("/", h.CreateEnrollment)
			r.Post("/check-conflict", h.CheckConflict)
			r.Get("/{id}", h.GetEnrollment)
			r.Put("/{id}", h.UpdateEnrollment)
			r.Delete("/{id}", h.DeleteEnrollment)
			r.Get("/{id}/invoices", h.GetEnrollmentInvoices)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/settle", h.SettleInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/accrual/run", h.RunAccrual)
			r.Get("/accrual/runs", h.ListAccrualRuns)
			r.Get("/audit", h.ListAudit)
			r.Get("/invoices/summary", h.InvoiceSummary)
		})

		// Calendar routes
		r.Route("/calendar", func(r chi.Router) {
			r.Get("/holidays", h.ListHolidays)
			r.Get("/next-business-day", h.NextBusinessDay)
		})
	})

	return r
}
