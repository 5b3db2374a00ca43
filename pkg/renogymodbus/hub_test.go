package renogymodbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T, transport *TestTransport, opts ...HubConnOption) *HubConn {
	t.Helper()
	opts = append([]HubConnOption{WithRequestGap(0)}, opts...)
	conn := NewHubConn(transport, zap.NewNop(), opts...)
	require.NoError(t, conn.Connect(context.Background()))
	return conn
}

func TestHubConnReadRegisters(t *testing.T) {
	require := require.New(t)

	transport := NewTestTransport(map[uint16][]uint16{
		5042: {150, 132, 0, 50000, 0x0001, 0x86A0, 0, 0},
	})
	conn := newTestHub(t, transport)

	payload, err := conn.ReadRegisters(context.Background(), 48, 5042, 8)
	require.NoError(err)
	require.Len(payload, 16)

	fields, err := Decode(CategoryBattery, 5042, payload)
	require.NoError(err)
	assert.InDelta(t, 50.0, fields["soc"], 0.001)
}

func TestHubConnReassemblesChunkedResponse(t *testing.T) {
	words := make([]uint16, 34)
	words[1] = 132
	transport := NewTestTransport(map[uint16][]uint16{256: words})
	transport.ChunkSize = 7 // frame arrives in 11 notifications
	conn := newTestHub(t, transport)

	payload, err := conn.ReadRegisters(context.Background(), 255, 256, 34)
	require.NoError(t, err)
	assert.Len(t, payload, 68)
}

func TestHubConnSerializesConcurrentReads(t *testing.T) {
	transport := NewTestTransport(map[uint16][]uint16{
		26: {48},
	})
	transport.ResponseDelay = 5 * time.Millisecond
	conn := newTestHub(t, transport)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.ReadRegisters(context.Background(), 48, 26, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, transport.WriteCount())
	assert.Equal(t, 1, transport.MaxInFlight(), "requests must never overlap on one adapter")
}

func TestHubConnResponseTimeout(t *testing.T) {
	transport := NewTestTransport(map[uint16][]uint16{26: {48}})
	transport.SilentNext = true
	conn := newTestHub(t, transport, WithResponseTimeout(30*time.Millisecond))

	_, err := conn.ReadRegisters(context.Background(), 48, 26, 1)
	assert.ErrorIs(t, err, ErrResponseTimeout)

	// link still up, next read succeeds
	_, err = conn.ReadRegisters(context.Background(), 48, 26, 1)
	assert.NoError(t, err)
}

func TestHubConnExceptionResponse(t *testing.T) {
	// register 4441 missing from the table, transport answers with an
	// illegal data address exception
	transport := NewTestTransport(map[uint16][]uint16{})
	conn := newTestHub(t, transport)

	_, err := conn.ReadRegisters(context.Background(), 32, 4441, 4)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FrameException, fe.Kind)
	assert.EqualValues(t, 2, fe.ExceptionCode)
}

func TestHubConnConnectionLostAndReconnect(t *testing.T) {
	require := require.New(t)

	transport := NewTestTransport(map[uint16][]uint16{26: {48}})
	conn := newTestHub(t, transport)

	_, err := conn.ReadRegisters(context.Background(), 48, 26, 1)
	require.NoError(err)

	transport.Drop()
	_, err = conn.ReadRegisters(context.Background(), 48, 26, 1)
	require.ErrorIs(err, ErrConnectionLost)

	// subsequent reads keep failing fast until reconnected
	_, err = conn.ReadRegisters(context.Background(), 48, 26, 1)
	require.ErrorIs(err, ErrConnectionLost)

	require.NoError(conn.Connect(context.Background()))
	_, err = conn.ReadRegisters(context.Background(), 48, 26, 1)
	require.NoError(err)
}

func TestHubConnConnectedTracksLinkState(t *testing.T) {
	transport := NewTestTransport(map[uint16][]uint16{26: {48}})
	conn := NewHubConn(transport, zap.NewNop(), WithRequestGap(0))
	assert.False(t, conn.Connected())

	require.NoError(t, conn.Connect(context.Background()))
	assert.True(t, conn.Connected())

	transport.Drop()
	_, err := conn.ReadRegisters(context.Background(), 48, 26, 1)
	require.ErrorIs(t, err, ErrConnectionLost)
	assert.False(t, conn.Connected())

	require.NoError(t, conn.Connect(context.Background()))
	assert.True(t, conn.Connected())

	require.NoError(t, conn.Close())
	assert.False(t, conn.Connected())
}

func TestHubConnContextCancel(t *testing.T) {
	transport := NewTestTransport(map[uint16][]uint16{26: {48}})
	transport.SilentNext = true
	conn := newTestHub(t, transport, WithResponseTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := conn.ReadRegisters(ctx, 48, 26, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
