package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons.
const (
	DropUnroutable   = "unroutable"
	DropDecode       = "decode"
	DropUnknownKind  = "unknown_kind"
	DropMalformed    = "malformed"
	DropHandlerPanic = "handler_panic"
)

// Stream holds the counters of one realtime session.
type Stream struct {
	Connects   *prometheus.CounterVec
	Messages   *prometheus.CounterVec
	Drops      *prometheus.CounterVec
	Subscribes *prometheus.CounterVec
}

// NewStream creates the counters and registers them on r. A nil r leaves them
// unregistered. Collectors already registered under the same names are reused.
func NewStream(r prometheus.Registerer) *Stream {
	s := &Stream{
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitflyer", Subsystem: "realtime", Name: "connects_total",
			Help: "Total realtime connection attempts",
		}, []string{"status"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitflyer", Subsystem: "realtime", Name: "messages_total",
			Help: "Total messages delivered to handlers",
		}, []string{"kind"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitflyer", Subsystem: "realtime", Name: "dropped_messages_total",
			Help: "Messages dropped before reaching a handler",
		}, []string{"reason"}),
		Subscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitflyer", Subsystem: "realtime", Name: "subscribe_requests_total",
			Help: "Subscribe requests written to the connection",
		}, []string{"status"}),
	}
	if r == nil {
		return s
	}
	s.Connects = register(r, s.Connects)
	s.Messages = register(r, s.Messages)
	s.Drops = register(r, s.Drops)
	s.Subscribes = register(r, s.Subscribes)
	return s
}

func register(r prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (s *Stream) IncConnect(status string)   { s.Connects.WithLabelValues(status).Inc() }
func (s *Stream) IncMessage(kind string)     { s.Messages.WithLabelValues(kind).Inc() }
func (s *Stream) IncDrop(reason string)      { s.Drops.WithLabelValues(reason).Inc() }
func (s *Stream) IncSubscribe(status string) { s.Subscribes.WithLabelValues(status).Inc() }
