package directory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	agents *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &metrics{
		agents: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentrelay_directory_agents",
			Help: "Number of registered agents by reachability status.",
		}, []string{"status"}),
	}
}
