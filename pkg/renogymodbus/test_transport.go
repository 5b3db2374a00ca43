package renogymodbus

import (
	"context"
	"sync"
	"time"
)

// TestTransport is a scripted Transport used in tests. It answers read
// requests from a register word table, optionally splitting responses into
// chunks to exercise stream reassembly, and records how many requests were
// in flight at once.
type TestTransport struct {
	// Words maps a block start register to the register words returned for
	// any read starting there.
	Words map[uint16][]uint16

	// ChunkSize splits responses into chunks of this many bytes. Zero
	// delivers the whole frame in one notification.
	ChunkSize int

	// ResponseDelay is applied before each response is delivered.
	ResponseDelay time.Duration

	// CorruptNext flips a payload bit on the next response.
	CorruptNext bool

	// SilentNext swallows the next request without answering.
	SilentNext bool

	mu          sync.Mutex
	notifyCh    chan []byte
	closeOnce   sync.Once
	connected   bool
	inFlight    int
	maxInFlight int
	writeCount  int
}

func NewTestTransport(words map[uint16][]uint16) *TestTransport {
	return &TestTransport{Words: words}
}

func (t *TestTransport) Connect(ctx context.Context) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyCh = make(chan []byte, 64)
	t.closeOnce = sync.Once{}
	t.connected = true
	return t.notifyCh, nil
}

func (t *TestTransport) Write(data []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrConnectionLost
	}
	t.writeCount++
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	silent := t.SilentNext
	t.SilentNext = false
	corrupt := t.CorruptNext
	t.CorruptNext = false
	deviceID := data[0]
	function := data[1]
	register := uint16(data[2])<<8 | uint16(data[3])
	words := t.Words[register]
	ch := t.notifyCh
	delay := t.ResponseDelay
	chunkSize := t.ChunkSize
	t.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		defer func() {
			t.mu.Lock()
			t.inFlight--
			t.mu.Unlock()
		}()
		if silent {
			return
		}

		var frame []byte
		if words == nil {
			// illegal data address exception
			frame = []byte{deviceID, function | 0x80, 0x02}
			crc := CRC16(frame)
			frame = append(frame, byte(crc&0xFF), byte(crc>>8))
		} else {
			frame = []byte{deviceID, function, byte(len(words) * 2)}
			for _, w := range words {
				frame = append(frame, byte(w>>8), byte(w))
			}
			crc := CRC16(frame)
			frame = append(frame, byte(crc&0xFF), byte(crc>>8))
			if corrupt {
				frame[3] ^= 0x01
			}
		}

		if chunkSize <= 0 {
			chunkSize = len(frame)
		}
		for i := 0; i < len(frame); i += chunkSize {
			end := i + chunkSize
			if end > len(frame) {
				end = len(frame)
			}
			t.mu.Lock()
			open := t.connected
			t.mu.Unlock()
			if !open {
				return
			}
			ch <- frame[i:end]
		}
	}()
	return nil
}

// Drop simulates an unsolicited link loss.
func (t *TestTransport) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return
	}
	t.connected = false
	t.closeOnce.Do(func() { close(t.notifyCh) })
}

func (t *TestTransport) Close() error {
	t.Drop()
	return nil
}

// MaxInFlight reports the highest number of unanswered requests observed.
func (t *TestTransport) MaxInFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInFlight
}

// WriteCount reports how many request frames were written.
func (t *TestTransport) WriteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeCount
}
