package metrics

import (
	"errors"
	"testing"

	"PRealtime/tools/errs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	req := require.New(t)

	// Given
	m := New(prometheus.NewRegistry())

	// When
	m.Online("u1", "c1")
	m.Online("u2", "c2")
	m.Offline("u1", "c1")
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.Event("send-message", nil)
	m.Event("send-message", nil)
	m.Event("join-room", errs.ErrMalformedEvent.WrapMsg("chatId is required"))
	m.Push(nil)
	m.Push(errors.New("fcm down"))
	m.Eviction()
	m.Repair()
	m.Repair()

	// Then
	req.Equal(1.0, testutil.ToFloat64(m.onlineUsers))
	req.Equal(1.0, testutil.ToFloat64(m.connections))
	req.Equal(2.0, testutil.ToFloat64(m.events.WithLabelValues("send-message", "ok")))
	req.Equal(1.0, testutil.ToFloat64(m.events.WithLabelValues("join-room", "malformed")))
	req.Equal(1.0, testutil.ToFloat64(m.pushes.WithLabelValues("error")))
	req.Equal(1.0, testutil.ToFloat64(m.evictions))
	req.Equal(2.0, testutil.ToFloat64(m.repairs))
}

func TestRecorder_Nil(t *testing.T) {
	var m *Recorder
	require.NotPanics(t, func() {
		m.Online("u", "c")
		m.Event("x", nil)
		m.Push(nil)
		m.Eviction()
	})
}
