// Package metrics exposes Prometheus collectors for the chat pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recall"

// Metrics groups the collectors recorded by memory, engine and session.
type Metrics struct {
	turns           *prometheus.CounterVec
	summarizations  prometheus.Counter
	rehydrations    prometheus.Counter
	promptStage     *prometheus.CounterVec
	streamedTokens  prometheus.Counter
	cleanupFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		summarizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizations_total",
			Help:      "Short-term evictions that produced a long-term summary.",
		}),
		rehydrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_rehydrations_total",
			Help:      "Short-term buffer reloads from the durable log.",
		}),
		promptStage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_stage_total",
			Help:      "Prompts by the degradation stage that fit the budget.",
		}, []string{"stage"}),
		streamedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streamed_tokens_total",
			Help:      "Generated fragments forwarded to callers.",
		}),
		cleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cleanup_failures_total",
			Help:      "Failed background cleanup steps by step.",
		}, []string{"step"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.turns,
			m.summarizations,
			m.rehydrations,
			m.promptStage,
			m.streamedTokens,
			m.cleanupFailures,
		)
	}
	return m
}

// Turn counts a finished chat turn: ok, unpersisted or failed.
func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// Summarized counts a short-term eviction into a summary.
func (m *Metrics) Summarized() {
	if m == nil {
		return
	}
	m.summarizations.Inc()
}

// Rehydrated counts a buffer rebuilt from the durable log.
func (m *Metrics) Rehydrated() {
	if m == nil {
		return
	}
	m.rehydrations.Inc()
}

// PromptStage counts the degradation stage a prompt was sent at.
func (m *Metrics) PromptStage(stage string) {
	if m == nil {
		return
	}
	m.promptStage.WithLabelValues(stage).Inc()
}

// Token counts one streamed reply fragment.
func (m *Metrics) Token() {
	if m == nil {
		return
	}
	m.streamedTokens.Inc()
}

// CleanupFailed counts a failed session cleanup step.
func (m *Metrics) CleanupFailed(step string) {
	if m == nil {
		return
	}
	m.cleanupFailures.WithLabelValues(step).Inc()
}
