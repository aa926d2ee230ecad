package serving

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "loads_total",
		Help:      "Total successful model loads (startup and swaps)",
	})

	swapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "swaps_total",
		Help:      "Total completed hot swaps",
	})

	swapFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "swap_failures_total",
		Help:      "Swap attempts whose load failed (previous model kept)",
	})

	inferenceTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "inference_total",
		Help:      "Total inference calls reaching the callback",
	})

	inferenceErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "inference_errors_total",
		Help:      "Inference callback failures",
	})

	retiringHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "retiring_handles",
		Help:      "Replaced model handles still referenced by in-flight calls",
	})
)

func init() {
	prometheus.MustRegister(loadsTotal, swapsTotal, swapFailuresTotal,
		inferenceTotal, inferenceErrorsTotal, retiringHandles)
}
