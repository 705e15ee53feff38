package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mvccdb"

var (
	// TrxTotal counts transaction outcomes (commit, rollback, conflict).
	TrxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trx_total",
			Help:      "Total number of transaction outcomes",
		},
		[]string{"outcome"},
	)
	// LogEntriesTotal counts log entries appended, by kind.
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_entries_total",
			Help:      "Total number of log entries appended",
		},
		[]string{"kind"},
	)
	// LogSyncDuration is the latency of log syncs.
	LogSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "log_sync_duration_seconds",
			Help:      "Log sync latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	// RecoveryEntriesTotal counts log entries replayed during recovery, by kind.
	RecoveryEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_entries_total",
			Help:      "Total number of log entries replayed during recovery",
		},
		[]string{"kind"},
	)
	// RecoveredTrxTotal counts recovered transactions by how they were resolved.
	RecoveredTrxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_trx_total",
			Help:      "Total number of transactions resolved during recovery",
		},
		[]string{"resolution"},
	)
)

// Outcome labels for TrxTotal.
const (
	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
	OutcomeConflict = "conflict"
)

// Sample is a single counter or histogram-count value.
type Sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot gathers the current mvccdb metrics from the default registry.
// Histograms report their sample count.
func Snapshot() ([]Sample, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, mf := range families {
		name := mf.GetName()
		if len(name) < len(namespace) || name[:len(namespace)] != namespace {
			continue
		}
		for _, m := range mf.GetMetric() {
			s := Sample{Name: name, Labels: map[string]string{}}
			for _, lp := range m.GetLabel() {
				s.Labels[lp.GetName()] = lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				s.Value = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				s.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Value returns the value of the named sample whose labels include all of labels.
func Value(samples []Sample, name string, labels map[string]string) float64 {
	var total float64
	for _, s := range samples {
		if s.Name != name || !matches(s.Labels, labels) {
			continue
		}
		total += s.Value
	}
	return total
}

func matches(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
