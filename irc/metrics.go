// Copyright (c) 2017-2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkerd_connections_accepted_total",
		Help: "Number of connections accepted.",
	})
	connectionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkerd_connections_reaped_total",
		Help: "Number of broken connections reaped.",
	})
	commandsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkerd_commands_total",
		Help: "Number of commands processed, by command.",
	},
		[]string{"command"})
	talkersRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talkerd_talkers_registered",
		Help: "Number of currently registered talkers.",
	})
)

func init() {
	prometheus.MustRegister(connectionsAccepted)
	prometheus.MustRegister(connectionsReaped)
	prometheus.MustRegister(commandsProcessed)
	prometheus.MustRegister(talkersRegistered)
}

// serveMetrics exposes prometheus metrics on the configured listener.
func (server *Server) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server.logger.Info("server", "serving metrics on", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		server.logger.Error("server", "metrics listener failed", err.Error())
	}
}
