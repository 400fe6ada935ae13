package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	modelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "model_errors",
		Help: "The number of object model errors by type.",
	}, []string{errTypeLabel})
)

func instrumentError(errType string) {
	modelErrors.
		With(prometheus.Labels{errTypeLabel: errType}).
		Inc()
}
