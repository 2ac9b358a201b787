package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Knock capture metrics
	KnocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whosthere_knocks_total",
			Help: "Total knocks accepted by the recorder",
		},
		[]string{"source"},
	)

	CaptureIntervals = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whosthere_capture_interval_seconds",
			Help:    "Gaps between consecutive captured knocks",
			Buckets: []float64{.05, .1, .2, .3, .5, .75, 1, 1.5, 2, 3, 5},
		},
	)

	// Validation metrics
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whosthere_validations_total",
			Help: "Total access attempts by outcome",
		},
		[]string{"result"},
	)

	// Sensor stream metrics
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whosthere_stream_events_total",
			Help: "Decoded sensor stream events",
		},
		[]string{"kind"},
	)

	DecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whosthere_decode_errors_total",
			Help: "Sensor lines that could not be decoded",
		},
	)

	SensorConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whosthere_sensor_connected",
			Help: "1 while a sensor connection is open",
		},
	)

	SensorReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whosthere_sensor_reconnects_total",
			Help: "Sensor reconnect attempts",
		},
	)

	// Playback metrics
	PlaybackFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whosthere_playback_fires_total",
			Help: "Knocks fired by the playback scheduler",
		},
		[]string{"timbre"},
	)

	// Provider metrics
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whosthere_provider_requests_total",
			Help: "Rhythm generation requests",
		},
		[]string{"provider", "mode", "result"},
	)

	ProviderCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whosthere_provider_cache_hits_total",
			Help: "Custom rhythm requests served from cache",
		},
	)
)

func init() {
	prometheus.MustRegister(
		KnocksTotal,
		CaptureIntervals,
		ValidationsTotal,
		StreamEventsTotal,
		DecodeErrorsTotal,
		SensorConnected,
		SensorReconnects,
		PlaybackFires,
		ProviderRequests,
		ProviderCacheHits,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. health reports liveness for
// /health; nil means always healthy.
func NewServer(addr string, health func() error, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
