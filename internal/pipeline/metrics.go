package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmexp_frames_total",
		Help: "Frames seen by a pipeline, by mode and outcome.",
	}, []string{"mode", "outcome"})

	handlerSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rmexp_handler_seconds",
		Help:    "Wall-clock time of one handler invocation.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"mode"})

	frameLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rmexp_stream_latency_seconds",
		Help:    "Time from a producer sending a frame to its metrics being recorded.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})
)
