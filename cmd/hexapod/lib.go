package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.jpl.nasa.gov/bdube/hexapod/comm"
	"github.jpl.nasa.gov/bdube/hexapod/motion"
	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

var (
	realPos = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hexapod_real_position",
		Help: "measured position per axis",
	}, []string{"axis"})

	targetPos = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hexapod_target_position",
		Help: "commanded position per axis",
	}, []string{"axis"})

	posError = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hexapod_position_error",
		Help: "absolute difference of target and real position per axis",
	}, []string{"axis"})

	errCode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hexapod_error_code",
		Help: "last error code read from the controller",
	})

	telemetryFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexapod_telemetry_faults_total",
		Help: "number of times telemetry gave up after repeated failures",
	})
)

// faultHoldoff is the pause before telemetry restarts after a fault
const faultHoldoff = 5 * time.Second

func init() {
	prometheus.MustRegister(realPos, targetPos, posError, errCode, telemetryFaults)
}

// Device bundles the connection and the controller on top of it
type Device struct {
	Client     *comm.Client
	Controller *motion.Controller
}

// Connect dials the hexapod described by c
func Connect(ctx context.Context, c Config) (Device, error) {
	cl := comm.NewClient(c.Addr, c.Serial)
	cl.Baud = c.Baud
	cl.Timeout = seconds(c.Timeout)
	cl.ConnectTimeout = seconds(c.ConnectTimeout)
	if err := cl.Connect(ctx); err != nil {
		return Device{}, err
	}
	hex := pi.NewHexapod(cl)
	if c.MaskWidth > 0 {
		hex.MaskWidth = c.MaskWidth
	}
	ctrl := motion.NewController(hex, motion.Config{
		PollInterval:     seconds(c.PollInterval),
		MoveTimeout:      seconds(c.MoveTimeout),
		ReferenceTimeout: seconds(c.ReferenceTimeout)})
	return Device{Client: cl, Controller: ctrl}, nil
}

func observe(t motion.Telemetry) {
	for _, a := range pi.AllAxes {
		l := a.String()
		realPos.WithLabelValues(l).Set(t.Real.Get(a))
		targetPos.WithLabelValues(l).Set(t.Target.Get(a))
		posError.WithLabelValues(l).Set(t.Diff.Get(a))
	}
	errCode.Set(float64(t.Error))
}

// RunTelemetry samples the hexapod into the prometheus gauges until ctx is
// done.  After a fault it starts over; the fault is logged and counted.
func (d Device) RunTelemetry(ctx context.Context, c Config) {
	if c.TelemetryInterval <= 0 {
		return
	}
	p := motion.TelemetryPoller{
		Controller:  d.Controller,
		Interval:    seconds(c.TelemetryInterval),
		MaxFailures: c.MaxTelemetryFailures,
		OnSample:    observe,
		OnFault: func(err error) {
			telemetryFaults.Inc()
			logrus.WithError(err).Error("telemetry fault")
		}}
	for {
		if err := p.Run(ctx); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(faultHoldoff):
		}
	}
}

// BuildMux returns the HTTP router for d
func BuildMux(c Config, d Device) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)
	motion.NewHTTPController(d.Controller).RT().Bind(root, c.Endpoint)
	root.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return root
}
