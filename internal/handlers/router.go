package handlers

import (
	"net/http"

	mW "github.com/earnhub/backend/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Set bundles the API handlers.
type Set struct {
	Accounts    *AccountHandler
	Packages    *PackageHandler
	Clicks      *ClickHandler
	Withdrawals *WithdrawalHandler
	TopUps      *TopUpHandler
	Admin       *AdminHandler
}

// Routes mounts the /api/v1 routes. auth authenticates callers; it is
// mW.AuthMiddleware in production.
func (s *Set) Routes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.MaxBody)

		// Public endpoints (no auth required)
		r.Post("/accounts", s.Accounts.Open)

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Get("/accounts/me", s.Accounts.Me)
			r.Get("/accounts/me/transactions", s.Accounts.Transactions)

			r.Post("/packages", s.Packages.Purchase)
			r.Get("/packages", s.Packages.List)
			r.Get("/packages/{packageId}", s.Packages.Get)
			r.Post("/packages/{packageId}/claim", s.Packages.Claim)

			r.Post("/clicks", s.Clicks.Record)
			r.Post("/clicks/activate", s.Clicks.Activate)

			r.Post("/withdrawals", s.Withdrawals.Request)
			r.Get("/withdrawals/available", s.Withdrawals.Available)
			r.Get("/withdrawals/{withdrawalId}", s.Withdrawals.Get)

			r.Post("/topups", s.TopUps.Create)
			r.Post("/topups/{reference}/confirm", s.TopUps.Confirm)

			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/accounts/{accountId}/approval", s.Admin.SetApproval)
				r.Get("/withdrawals", s.Admin.ListWithdrawals)
				r.Post("/withdrawals/{withdrawalId}/approve", s.Admin.ApproveWithdrawal)
				r.Post("/withdrawals/{withdrawalId}/reject", s.Admin.RejectWithdrawal)
				r.Post("/scheduler/run", s.Admin.RunScheduler)
				r.Get("/settings", s.Admin.Settings)
				r.Post("/settings/refresh", s.Admin.RefreshSettings)
			})
		})
	})
}
