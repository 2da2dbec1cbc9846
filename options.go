package mqtt

import (
	"crypto/tls"
	"time"

	"github.com/golang-io/requests"

	"github.com/mqttgo/mqttcore/logger"
	"github.com/mqttgo/mqttcore/metrics"
	"github.com/mqttgo/mqttcore/packet"
	"github.com/mqttgo/mqttcore/reachability"
	"github.com/mqttgo/mqttcore/retry"
)

// config holds every mutable session knob plus the wiring for the
// optional collaborators (retrier, reachability monitor, logger, metrics).
type config struct {
	endpoint string // e.g. "tcp://host:1883", "wss://host:8084/mqtt"
	version  byte

	identity Identity
	will     *Will

	keepAlive      time.Duration
	pingEnabled    bool
	pingTimeout    time.Duration
	connectTimeout time.Duration
	publishTimeout time.Duration

	tlsConfig *tls.Config
	authFlow  AuthFlow

	retrier *retry.Retrier
	monitor *reachability.Monitor
	log     logger.Sink
	metrics *metrics.Metrics
}

// Option configures a Session at construction time.
type Option func(*config)

func newConfig(opts ...Option) config {
	c := config{
		version:        packet.Version311,
		keepAlive:      60 * time.Second,
		pingEnabled:    true,
		pingTimeout:    5 * time.Second,
		connectTimeout: 30 * time.Second,
		publishTimeout: 5 * time.Second,
		log:            logger.Noop,
	}
	for _, o := range opts {
		o(&c)
	}
	if c.identity.ClientID == "" {
		c.identity.ClientID = "mqtt-" + requests.GenId()
	}
	return c
}

// Endpoint sets the broker URL, e.g. "tcp://localhost:1883" or
// "wss://localhost:8084/mqtt".
func Endpoint(url string) Option {
	return func(c *config) { c.endpoint = url }
}

// ProtocolVersion selects MQTT 3.1.1 (packet.Version311) or 5.0
// (packet.Version5).
func ProtocolVersion(version byte) Option {
	return func(c *config) { c.version = version }
}

// WithIdentity sets the client identifier and optional credentials.
func WithIdentity(identity Identity) Option {
	return func(c *config) { c.identity = identity }
}

// WithWill registers a message the broker publishes on abnormal disconnect.
func WithWill(will Will) Option {
	return func(c *config) { c.will = &will }
}

// KeepAlive sets the keep-alive interval (default 60s). Mutable at
// runtime via Session.SetKeepAlive; takes effect on the next ping cycle.
func KeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// PingEnabled toggles the keep-alive pinger (default true). Takes effect
// on the next open.
func PingEnabled(enabled bool) Option {
	return func(c *config) { c.pingEnabled = enabled }
}

// PingTimeout sets how long the session waits for PINGRESP (default 5s).
func PingTimeout(d time.Duration) Option {
	return func(c *config) { c.pingTimeout = d }
}

// ConnectTimeout bounds the whole open attempt, dial plus the
// CONNECT/CONNACK (and any AUTH) exchange (default 30s). It applies to every
// endpoint kind, QUIC included; QUIC dialing has no separate default that
// replaces it.
func ConnectTimeout(d time.Duration) Option {
	return func(c *config) { c.connectTimeout = d }
}

// PublishTimeout sets how long a QoS >= 1 publish flow waits at each
// stage before resending (default 5s).
func PublishTimeout(d time.Duration) Option {
	return func(c *config) { c.publishTimeout = d }
}

// TLSConfig supplies the client TLS configuration used by tls/wss/quic
// endpoints.
func TLSConfig(cfg *tls.Config) Option {
	return func(c *config) { c.tlsConfig = cfg }
}

// WithAuthFlow installs the callback invoked on every broker AUTH received
// during open.
func WithAuthFlow(flow AuthFlow) Option {
	return func(c *config) { c.authFlow = flow }
}

// WithRetrier installs the reconnection retrier. Without one, a session
// closed by a failure is not reconnected by a retry schedule; a reachability
// monitor's unsatisfied-to-satisfied transition still triggers a reconnect.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *config) { c.retrier = r }
}

// WithReachabilityMonitor installs the optional network-availability
// monitor. Without one, the session never suppresses retries for
// availability reasons.
func WithReachabilityMonitor(m *reachability.Monitor) Option {
	return func(c *config) { c.monitor = m }
}

// WithLogger installs the leveled logging sink. Without one, logging is a
// no-op (logger.Noop).
func WithLogger(sink logger.Sink) Option {
	return func(c *config) { c.log = sink }
}

// WithMetrics installs the optional Prometheus counters/gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}
