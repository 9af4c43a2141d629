package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
)

func attach(t *testing.T, h *Hub, addr string) *Endpoint {
	t.Helper()
	e, err := h.Attach(addr)
	require.NoError(t, err)
	return e
}

func TestHubDeliversToRegisteredPeer(t *testing.T) {
	h := NewHub(0)
	a := attach(t, h, "aa:01")
	b := attach(t, h, "aa:02")
	require.NoError(t, a.AddPeer("B", "aa:02"))

	require.NoError(t, a.Send("aa:02", []byte("hello")))

	p, ok := b.Receive()
	require.True(t, ok)
	assert.Equal(t, "aa:01", p.From)
	assert.Equal(t, []byte("hello"), p.Payload)

	_, ok = b.Receive()
	assert.False(t, ok)
}

func TestHubSendRequiresRegisteredPeer(t *testing.T) {
	h := NewHub(0)
	a := attach(t, h, "aa:01")
	attach(t, h, "aa:02")

	err := a.Send("aa:02", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestHubSendToEmptyAddressFails(t *testing.T) {
	h := NewHub(0)
	a := attach(t, h, "aa:01")
	require.NoError(t, a.AddPeer("B", "aa:02"))

	err := a.Send("aa:02", []byte("x"))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestHubSharedAddressReachesEveryEndpoint(t *testing.T) {
	h := NewHub(0)
	a := attach(t, h, "aa:01")
	b := attach(t, h, "aa:02")
	clone := attach(t, h, "aa:02")
	require.NoError(t, a.AddPeer("B", "aa:02"))
	assert.Equal(t, 2, h.Endpoints("aa:02"))

	require.NoError(t, a.Send("aa:02", []byte("x")))

	_, ok := b.Receive()
	assert.True(t, ok)
	_, ok = clone.Receive()
	assert.True(t, ok)
}

func TestHubPayloadIsCopied(t *testing.T) {
	h := NewHub(0)
	a := attach(t, h, "aa:01")
	b := attach(t, h, "aa:02")
	require.NoError(t, a.AddPeer("B", "aa:02"))

	payload := []byte("abc")
	require.NoError(t, a.Send("aa:02", payload))
	payload[0] = 'z'

	p, ok := b.Receive()
	require.True(t, ok)
	assert.Equal(t, "abc", string(p.Payload))
}

func TestHubInboxIsBounded(t *testing.T) {
	h := NewHub(2)
	a := attach(t, h, "aa:01")
	b := attach(t, h, "aa:02")
	require.NoError(t, a.AddPeer("B", "aa:02"))

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send("aa:02", []byte{byte(i)}))
	}

	assert.Equal(t, uint64(3), b.Dropped())
	p, _ := b.Receive()
	assert.Equal(t, []byte{0}, p.Payload, "oldest packets are kept")
}

func TestEndpointClose(t *testing.T) {
	h := NewHub(0)
	a := attach(t, h, "aa:01")
	b := attach(t, h, "aa:02")
	require.NoError(t, a.AddPeer("B", "aa:02"))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, 0, h.Endpoints("aa:02"))
	assert.ErrorIs(t, a.Send("aa:02", []byte("x")), ErrUnreachable)
	assert.ErrorIs(t, b.Send("aa:01", []byte("x")), ErrClosed)
	assert.ErrorIs(t, b.AddPeer("A", "aa:01"), ErrClosed)
}

func TestEndpointImplementsTransport(t *testing.T) {
	var _ gossip.Transport = (*Endpoint)(nil)
	var _ gossip.Transport = (*GRPC)(nil)
}

func TestHubRejectsEmptyAddress(t *testing.T) {
	_, err := NewHub(0).Attach("")
	assert.ErrorIs(t, err, ErrInvalidAddr)
}

func TestHubSendWhileEndpointsClose(t *testing.T) {
	h := NewHub(0)
	sender := attach(t, h, "aa:00")
	require.NoError(t, sender.AddPeer("B", "aa:ff"))

	clones := make([]*Endpoint, 50)
	for i := range clones {
		clones[i] = attach(t, h, "aa:ff")
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = sender.Send("aa:ff", []byte("x"))
			}
		}
	}()
	go func() {
		defer wg.Done()
		defer close(done)
		for _, e := range clones {
			assert.NoError(t, e.Close())
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, h.Endpoints("aa:ff"))
	assert.ErrorIs(t, sender.Send("aa:ff", []byte("x")), ErrUnreachable)
}
