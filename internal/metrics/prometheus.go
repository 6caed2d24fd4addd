package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_agent_workflow_runs_total",
			Help: "Workflow executions by classified intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	WorkflowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_agent_workflow_duration_seconds",
			Help:    "End-to-end workflow duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	NodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_agent_node_duration_seconds",
			Help:    "Duration of each workflow node in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"node"},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_agent_retrieval_results_count",
			Help:    "Number of hits returned per hybrid search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	RetrievalDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_agent_retrieval_degraded_total",
			Help: "Searches that fell back because a collaborator failed",
		},
		[]string{"reason"},
	)

	ClassifierFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_agent_classifier_fallbacks_total",
			Help: "Classifications that defaulted to answer_question",
		},
		[]string{"reason"},
	)

	SummaryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_agent_summary_failures_total",
			Help: "Per-document summaries replaced by an empty summary",
		},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_agent_llm_calls_total",
			Help: "Language model and embedding calls",
		},
		[]string{"operation", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_agent_llm_duration_seconds",
			Help:    "Language model and embedding call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	LLMRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_agent_llm_retries_total",
			Help: "Language model and embedding calls repeated after a transient failure",
		},
		[]string{"operation"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_agent_circuit_state",
			Help: "Circuit breaker state per collaborator (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_agent_documents_indexed_total",
			Help: "Total documents indexed",
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_agent_chunks_indexed_total",
			Help: "Total chunk records indexed",
		},
	)

	DocumentsRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_agent_documents_removed_total",
			Help: "Total records removed from the store",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WorkflowRuns,
			WorkflowDuration,
			NodeDuration,
			RetrievalResultsCount,
			RetrievalDegraded,
			ClassifierFallbacks,
			SummaryFailures,
			LLMCalls,
			LLMDuration,
			LLMRetries,
			CircuitState,
			CacheHits,
			CacheMisses,
			DocumentsIndexed,
			ChunksIndexed,
			DocumentsRemoved,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
