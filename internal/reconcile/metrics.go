package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reconcileTotal — завершённые согласования по результату:
	// success, failure, anonymous, discarded.
	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irt_reconcile_total",
			Help: "Количество завершённых согласований профиля",
		},
		[]string{"result"},
	)

	reconcileCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irt_reconcile_coalesced_total",
		Help: "Уведомления о сессии, объединённые с уже идущим согласованием",
	})

	initTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irt_reconcile_init_timeout_total",
		Help: "Начальные загрузки, прерванные по таймауту",
	})
)
