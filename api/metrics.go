package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobukyu_transitions_total",
			Help: "Total number of successful job lifecycle operations",
		},
		[]string{"op"}, // create, take, release, complete, fail, retry, update, delete
	)

	jobsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobukyu_jobs",
			Help: "Current number of jobs per status",
		},
		[]string{"status"},
	)
)
