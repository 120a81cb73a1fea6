package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printqd/printqd/internal/logger"
)

func drain(ch chan Frame) []Frame {
	var frames []Frame
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := NewHub(logger.NewNop())

	c1 := h.AttachClient()
	c2 := h.AttachClient()

	h.BroadcastClients("jobs_updated", nil)

	f1 := drain(c1.Outbound)
	f2 := drain(c2.Outbound)
	require.Len(t, f1, 1)
	require.Len(t, f2, 1)
	assert.Equal(t, "jobs_updated", f1[0].Event)
	assert.Equal(t, "jobs_updated", f2[0].Event)
}

func TestDetachedClientGetsNothing(t *testing.T) {
	h := NewHub(logger.NewNop())

	c := h.AttachClient()
	h.DetachClient(c)
	h.BroadcastClients("jobs_updated", nil)

	_, open := <-c.Outbound
	assert.False(t, open)
}

func TestSendToPrinterIsPointToPoint(t *testing.T) {
	h := NewHub(logger.NewNop())

	p1 := h.AttachPrinter(1, "s1")
	p2 := h.AttachPrinter(2, "s2")

	h.SendToPrinter(1, "print_job", map[string]int64{"id": 7})

	require.Len(t, drain(p1.Outbound), 1)
	assert.Empty(t, drain(p2.Outbound))
}

func TestSendToDisconnectedPrinterIsDropped(t *testing.T) {
	h := NewHub(logger.NewNop())
	h.SendToPrinter(99, "print_job", nil)
}

func TestAttachPrinterSupersedesConnection(t *testing.T) {
	h := NewHub(logger.NewNop())

	old := h.AttachPrinter(1, "s1")
	fresh := h.AttachPrinter(1, "s2")

	_, open := <-old.Outbound
	assert.False(t, open)

	h.SendToPrinter(1, "print_job", nil)
	assert.Len(t, drain(fresh.Outbound), 1)
}

func TestDropPrinterSessionMatchesKey(t *testing.T) {
	h := NewHub(logger.NewNop())

	conn := h.AttachPrinter(1, "s1")

	h.DropPrinterSession(1, "other")
	select {
	case _, open := <-conn.Outbound:
		assert.True(t, open, "connection should survive a mismatched drop")
	default:
	}

	h.DropPrinterSession(1, "s1")
	_, open := <-conn.Outbound
	assert.False(t, open)
}

func TestDetachPrinterIgnoresSupersededConnection(t *testing.T) {
	h := NewHub(logger.NewNop())

	old := h.AttachPrinter(1, "s1")
	fresh := h.AttachPrinter(1, "s2")

	// The old goroutine detaching must not tear down the new conn.
	h.DetachPrinter(old)

	h.SendToPrinter(1, "print_job", nil)
	assert.Len(t, drain(fresh.Outbound), 1)
}

func TestFullClientBufferDropsFrame(t *testing.T) {
	h := NewHub(logger.NewNop())
	c := h.AttachClient()

	for i := 0; i < outboundBuffer+10; i++ {
		h.BroadcastClients("jobs_updated", nil)
	}
	assert.Len(t, drain(c.Outbound), outboundBuffer)
}
