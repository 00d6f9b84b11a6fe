// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/transitions"
)

const (
	defaultMaxConnections = 8
	shutdownTimeout       = 2 * time.Second
)

type globalsStruct struct {
	sync.Mutex     // Protects metrics & server
	metrics        *metricsStruct
	metricsAddr    string
	maxConnections uint32
	listener       net.Listener
	server         *http.Server
	serverDone     chan struct{}
}

var globals globalsStruct

func init() {
	globals.metrics = newMetrics()
	transitions.Register("stats", &globals)
}

// Up resets every metric and, if Stats.MetricsAddr is set, starts serving them.
//
//   MetricsAddr    - host:port to serve /metrics on (empty or absent for none)
//   MaxConnections - concurrent scrape connections allowed (default 8)
func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	metricsAddr, fetchErr := confMap.FetchOptionValueString("Stats", "MetricsAddr")
	if nil != fetchErr {
		metricsAddr = ""
	}

	maxConnections, fetchErr := confMap.FetchOptionValueUint32("Stats", "MaxConnections")
	if nil != fetchErr {
		maxConnections = defaultMaxConnections
	}
	if 0 == maxConnections {
		err = fmt.Errorf("[Stats]MaxConnections must be non-zero")
		return
	}

	globals.Lock()
	defer globals.Unlock()

	globals.metrics = newMetrics()
	globals.metricsAddr = metricsAddr
	globals.maxConnections = maxConnections

	if "" == metricsAddr {
		err = nil
		return
	}

	listener, err := net.Listen("tcp", metricsAddr)
	if nil != err {
		err = fmt.Errorf("stats listen on %v failed: %v", metricsAddr, err)
		return
	}

	globals.listener = netutil.LimitListener(listener, int(maxConnections))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(globals.metrics.registry, promhttp.HandlerOpts{}))

	globals.server = &http.Server{Handler: mux}
	globals.serverDone = make(chan struct{})

	go serve(globals.server, globals.listener, globals.serverDone)

	logger.Infof("stats serving metrics at http://%v/metrics", globals.listener.Addr())

	return
}

func serve(server *http.Server, listener net.Listener, serverDone chan struct{}) {
	err := server.Serve(listener)
	if (nil != err) && (http.ErrServerClosed != err) {
		logger.ErrorfWithError(err, "stats metrics server failed")
	}
	close(serverDone)
}

// Down stops serving metrics, if they were being served
func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	globals.Lock()
	server := globals.server
	serverDone := globals.serverDone
	globals.server = nil
	globals.listener = nil
	globals.serverDone = nil
	globals.Unlock()

	if nil == server {
		err = nil
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(ctx)
	<-serverDone

	return
}

// ListenAddr returns the address metrics are being served on, or "" if they are not
func ListenAddr() string {
	globals.Lock()
	defer globals.Unlock()

	if nil == globals.listener {
		return ""
	}
	return globals.listener.Addr().String()
}
