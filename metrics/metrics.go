package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

const (
	MetricsNamespace = "steplog"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "steps_total",
		Help:      "Count of finished steps",
	}, []string{
		"status",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of finished tests",
	}, []string{
		"status",
	})

	screenshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "screenshots_total",
		Help:      "Count of screenshots written as attachments",
	})

	mergedReportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "merged_reports_total",
		Help:      "Count of worker reports merged into a combined report",
	})

	mergeSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "merge_skipped_total",
		Help:      "Count of worker reports skipped by a lenient merge",
	})

	mergeDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "merge_duration_seconds",
		Help:      "Duration of the last report merge",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordStep(status types.StepStatus) {
	if status == "" {
		status = types.StepStatusNone
	}
	stepsTotal.WithLabelValues(string(status)).Inc()
}

func RecordTest(status types.TestStatus) {
	if !status.IsValid() {
		log.Error("RecordTest - invalid status", "status", status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "tests_total",
			"status", status)
	}
	testsTotal.WithLabelValues(string(status)).Inc()
}

func RecordScreenshot() {
	screenshotsTotal.Inc()
}

func RecordMerge(merged, skipped int, duration time.Duration) {
	mergedReportsTotal.Add(float64(merged))
	mergeSkippedTotal.Add(float64(skipped))
	mergeDuration.Set(duration.Seconds())
}
