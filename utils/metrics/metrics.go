package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	ImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_imports_total",
			Help: "Paper imports by final outcome",
		},
		[]string{"outcome"},
	)

	ParseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paper_parse_duration_seconds",
			Help:    "Time spent in the parsing pipeline per import",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	QuestionsParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_questions_parsed_total",
			Help: "Parsed questions by validity",
		},
		[]string{"valid"},
	)

	ParseCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paper_parse_cache_hits_total",
			Help: "Imports served from the fingerprint cache",
		},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter, RequestDuration, ImportsTotal, ParseDuration, QuestionsParsed, ParseCacheHits)
	})
}

// Middleware records request counts and latency per route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		RequestCounter.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the Prometheus exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// ObserveImport records the outcome of one import.
func ObserveImport(outcome string, took time.Duration, valid, invalid int) {
	ImportsTotal.WithLabelValues(outcome).Inc()
	if took > 0 {
		ParseDuration.Observe(took.Seconds())
	}
	if valid > 0 {
		QuestionsParsed.WithLabelValues("true").Add(float64(valid))
	}
	if invalid > 0 {
		QuestionsParsed.WithLabelValues("false").Add(float64(invalid))
	}
}
