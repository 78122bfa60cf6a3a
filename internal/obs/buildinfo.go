package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo is a constant 1 gauge labelled with version and commit.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dws_build_info",
			Help: "DWS auth service build information.",
		},
		[]string{"component", "version", "commit"},
	)
)

// InitBuildInfo registers build_info once and sets it for the given component.
func InitBuildInfo(component, version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(component, version, commit).Set(1)
}
