package metrics

import (
	"PRealtime/tools/errs"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "im_gateway"

// Recorder 网关指标；nil 接收者上的方法都是 no-op
type Recorder struct {
	onlineUsers prometheus.Gauge
	connections prometheus.Gauge
	events      *prometheus.CounterVec
	pushes      *prometheus.CounterVec
	evictions   prometheus.Counter
	repairs     prometheus.Counter
}

func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Recorder{
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with a live registered connection on this node.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Open realtime connections on this node.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events handled, by event name and result.",
		}, []string{"event", "result"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_total",
			Help:      "Push notifications attempted for offline recipients.",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_evictions_total",
			Help:      "Stale connections terminated by a duplicate login.",
		}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_repairs_total",
			Help:      "Registry entries restored from an open connection scan.",
		}),
	}
	reg.MustRegister(m.onlineUsers, m.connections, m.events, m.pushes, m.evictions, m.repairs)
	return m
}

// Online / Offline 满足 presence.Observer
func (m *Recorder) Online(string, string) {
	if m == nil {
		return
	}
	m.onlineUsers.Inc()
}

func (m *Recorder) Offline(string, string) {
	if m == nil {
		return
	}
	m.onlineUsers.Dec()
}

func (m *Recorder) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Recorder) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Event 挂到 Dispatcher.Observe
func (m *Recorder) Event(event string, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, result(err)).Inc()
}

func (m *Recorder) Push(err error) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result(err)).Inc()
}

func (m *Recorder) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Recorder) Repair() {
	if m == nil {
		return
	}
	m.repairs.Inc()
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	switch errs.Code(err) {
	case errs.MalformedEvent:
		return "malformed"
	case errs.NotFound:
		return "not_found"
	case errs.InvalidState:
		return "invalid_state"
	case errs.External:
		return "external"
	}
	return "error"
}
