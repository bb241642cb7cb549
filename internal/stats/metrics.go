package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 프로메테우스 컬렉터. /metrics 로 노출된다.
var (
	admissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Admission decisions by reason.",
	}, []string{"reason"})

	dispatchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Upstream dispatches by model and outcome.",
	}, []string{"model", "outcome"})

	dispatchTTFT = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "dispatch",
		Name:      "ttft_seconds",
		Help:      "Time to first byte of the upstream stream.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model"})

	shedderLoad = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "shedder",
		Name:      "load_ratio",
		Help:      "Current load as a fraction of upstream capacity.",
	})
)

// SetShedderLoad 는 현재 부하율 게이지를 갱신한다.
func SetShedderLoad(load float64) {
	shedderLoad.Set(load)
}
