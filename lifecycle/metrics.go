package lifecycle

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	operationLabel = "operation"
	errorTypeLabel = "error_type"
)

var (
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_operations",
		Help: "The number of lifecycle operations, by outcome.",
	}, []string{operationLabel, errorTypeLabel})

	objectCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifecycle_objects",
		Help: "The number of stored objects.",
	})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_validations",
		Help: "The number of constraint evaluations.",
	}, []string{"result"})

	eventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_events",
		Help: "The number of events dispatched to listeners.",
	}, []string{"event"})

	expiredLocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_expired_locks",
		Help: "The number of locks released because they expired.",
	})

	transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_transactions",
		Help: "The number of transaction state changes.",
	}, []string{"outcome"})
)

func instrumentOperation(op string, err error) {
	var errType string
	if err != nil {
		errType = errors.Type(err)
	}
	operations.With(prometheus.Labels{
		operationLabel: op,
		errorTypeLabel: errType,
	}).Inc()
}

func instrumentObjects(n int) {
	objectCount.Set(float64(n))
}

func instrumentValidation(ok bool) {
	if ok {
		validations.WithLabelValues("valid").Inc()
		return
	}
	validations.WithLabelValues("invalid").Inc()
}

func instrumentEvent(kind eventKind) {
	eventsDispatched.WithLabelValues(string(kind)).Inc()
}

func instrumentExpiredLock() {
	expiredLocks.Inc()
}

func instrumentTransaction(outcome string) {
	transactions.WithLabelValues(outcome).Inc()
}
