package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы реакции на изменение identity.
const (
	outcomeResolved   = "resolved"
	outcomeSignedOut  = "signed_out"
	outcomeSuperseded = "superseded"
)

// Причины отката роли к user.
const (
	fallbackLookupError = "lookup_error"
	fallbackUnknownRole = "unknown_role"
)

var (
	reactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_reactions_total",
			Help: "Реакции на изменения сессии IdP по исходу",
		},
		[]string{"outcome"},
	)

	roleFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_role_fallbacks_total",
			Help: "Случаи, когда роль определена как user по умолчанию",
		},
		[]string{"reason"},
	)

	staleResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_session_stale_results_total",
			Help: "Результаты определения роли, отброшенные из-за смены identity",
		},
	)
)
