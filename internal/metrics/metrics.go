// Package metrics holds the restructurer's package-level prometheus
// collectors, grounded on friggdb.go's promauto style: one var block of
// promauto constructors, never allocated per call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffsetCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restructure",
		Name:      "offset_commits_total",
		Help:      "Total number of offset ranges committed to the accountant.",
	}, []string{"topic"})

	AccountantWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "restructure",
		Name:      "accountant_write_failures_total",
		Help:      "Total number of failed accountant durable-write attempts.",
	})

	CleanerDeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restructure",
		Name:      "cleaner_deletions_total",
		Help:      "Total number of source files deleted by the cleaner.",
	}, []string{"topic"})

	CleanerRetentionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restructure",
		Name:      "cleaner_retentions_total",
		Help:      "Total number of source files the cleaner chose to retain.",
	}, []string{"topic", "reason"})

	CoordinatorLockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restructure",
		Name:      "coordinator_lock_acquisitions_total",
		Help:      "Total number of topic-lock acquisition attempts by outcome.",
	}, []string{"outcome"})

	CleanerRecordCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "restructure",
		Name:      "cleaner_record_check_duration_seconds",
		Help:      "Time spent checking one source file's records against their targets.",
		Buckets:   prometheus.DefBuckets,
	})
)
