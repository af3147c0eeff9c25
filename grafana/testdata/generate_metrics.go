// Package testdata provides a sample metrics generator for testing Grafana
// dashboards without pointing them at a real memoryd instance.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mirrors the metric families exported by internal/telemetry.
var (
	memoriesFormed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "formation",
			Name:      "memories_formed_total",
			Help:      "Total number of memories written by the formation engine",
		},
		[]string{"store", "origin"},
	)
	retrievalQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Total number of retrieval queries",
		},
		[]string{"result"},
	)
	retrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "Duration of retrieval queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	consolidationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidation",
			Name:      "runs_total",
			Help:      "Total number of consolidation passes",
		},
		[]string{"result"},
	)
	consolidationChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidation",
			Name:      "changes_total",
			Help:      "Total number of records created, decayed, or deleted by consolidation",
		},
		[]string{"phase"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "workingmem",
			Name:      "active_sessions",
			Help:      "Number of live working-memory sessions",
		},
	)
	storeDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "degraded",
			Help:      "Whether the backing store is running in degraded local mode (1=degraded)",
		},
		[]string{"store"},
	)
)

func init() {
	prometheus.MustRegister(
		memoriesFormed,
		retrievalQueries,
		retrievalDuration,
		consolidationRuns,
		consolidationChanges,
		activeSessions,
		storeDegraded,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	generateSampleData()

	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + port}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'memoryd-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func generateSampleData() {
	stores := []string{"factual", "experiential"}
	origins := []string{"extraction", "manual"}
	results := []string{"hit", "hit", "hit", "empty", "error"}

	for i := 0; i < 80; i++ {
		memoriesFormed.WithLabelValues(randomChoice(stores), randomChoice(origins)).Inc()
	}
	for i := 0; i < 200; i++ {
		retrievalQueries.WithLabelValues(randomChoice(results)).Inc()
		retrievalDuration.Observe(rand.Float64() * 0.05)
	}
	for i := 0; i < 20; i++ {
		consolidationRuns.WithLabelValues(randomChoice([]string{"success", "success", "success", "error"})).Inc()
	}
	consolidationChanges.WithLabelValues("merge").Add(float64(rand.Intn(30)))
	consolidationChanges.WithLabelValues("extract").Add(float64(rand.Intn(10)))
	consolidationChanges.WithLabelValues("prune").Add(float64(rand.Intn(50)))

	activeSessions.Set(float64(rand.Intn(20)))
	storeDegraded.WithLabelValues("factual").Set(0)
	storeDegraded.WithLabelValues("experiential").Set(0)
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	stores := []string{"factual", "experiential"}
	origins := []string{"extraction", "manual"}
	results := []string{"hit", "hit", "hit", "empty", "error"}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rand.Float64() > 0.3 {
				retrievalQueries.WithLabelValues(randomChoice(results)).Inc()
				retrievalDuration.Observe(rand.Float64() * 0.05)
			}
			if rand.Float64() > 0.5 {
				memoriesFormed.WithLabelValues(randomChoice(stores), randomChoice(origins)).Inc()
			}
			if rand.Float64() > 0.9 {
				consolidationRuns.WithLabelValues("success").Inc()
				consolidationChanges.WithLabelValues("merge").Add(float64(rand.Intn(5)))
				consolidationChanges.WithLabelValues("extract").Add(float64(rand.Intn(2)))
				consolidationChanges.WithLabelValues("prune").Add(float64(rand.Intn(8)))
			}
			activeSessions.Add(float64(rand.Intn(3) - 1))
			if rand.Float64() > 0.95 {
				storeDegraded.WithLabelValues(randomChoice(stores)).Set(1)
			} else if rand.Float64() > 0.5 {
				storeDegraded.WithLabelValues(randomChoice(stores)).Set(0)
			}
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
