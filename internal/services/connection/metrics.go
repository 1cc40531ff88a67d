package connection

import "github.com/prometheus/client_golang/prometheus"

const (
	resultOK           = "ok"
	resultError        = "error"
	resultUnauthorized = "unauthorized"
)

func init() {
	prometheus.MustRegister(oauthExchanges, tokenRefreshes, crmRequests)
}

var (
	oauthExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hubbridge",
		Subsystem: "oauth",
		Name:      "exchanges_total",
		Help:      "Authorization code exchanges by result",
	}, []string{"result"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hubbridge",
		Subsystem: "oauth",
		Name:      "refreshes_total",
		Help:      "Refresh token grants by result",
	}, []string{"result"})

	crmRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hubbridge",
		Subsystem: "crm",
		Name:      "requests_total",
		Help:      "CRM test calls by result",
	}, []string{"result"})
)
