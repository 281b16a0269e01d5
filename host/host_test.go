package host

import (
	"context"
	"sync"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Mock Transport for Testing
// =============================================================================

// transferRecord captures one OUT transfer.
type transferRecord struct {
	endpoint uint8
	data     []byte
}

// mockTransport implements hal.Transport for testing.
type mockTransport struct {
	info      hal.DeviceInfo
	endpoints []hal.EndpointDescriptor
	strings   map[uint8]string

	// Transfer behavior
	bulkErr    error
	shortWrite bool
	responses  map[uint8][][]byte // Queued IN payloads per endpoint
	irq        chan []byte
	irqErr     chan error

	// State tracking
	writes []transferRecord
	closed int
	mu     sync.Mutex
}

var _ hal.Transport = (*mockTransport)(nil)

func newMockTransport() *mockTransport {
	return &mockTransport{
		info: hal.DeviceInfo{VendorID: 0x1633, ProductID: 0x4510},
		endpoints: []hal.EndpointDescriptor{
			{Address: 0x01, Attributes: 0x02, MaxPacketSize: 512},
			{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512},
			{Address: 0x03, Attributes: 0x02, MaxPacketSize: 64},
			{Address: 0x83, Attributes: 0x02, MaxPacketSize: 64},
			{Address: 0x82, Attributes: 0x03, MaxPacketSize: 4},
		},
		strings:   map[uint8]string{4: "7"},
		responses: make(map[uint8][][]byte),
		irq:       make(chan []byte, 16),
		irqErr:    make(chan error, 1),
	}
}

func (m *mockTransport) Info() hal.DeviceInfo {
	return m.info
}

func (m *mockTransport) Endpoints() []hal.EndpointDescriptor {
	return m.endpoints
}

func (m *mockTransport) endpoint(addr uint8) hal.EndpointDescriptor {
	for _, ep := range m.endpoints {
		if ep.Address == addr {
			return ep
		}
	}
	return hal.EndpointDescriptor{}
}

// queue adds an IN payload for endpoint.
func (m *mockTransport) queue(endpoint uint8, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[endpoint] = append(m.responses[endpoint], data)
}

// sent returns a copy of the recorded OUT transfers.
func (m *mockTransport) sent() []transferRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transferRecord(nil), m.writes...)
}

func (m *mockTransport) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	m.mu.Lock()
	if m.bulkErr != nil {
		err := m.bulkErr
		m.mu.Unlock()
		return 0, err
	}
	if endpoint&hal.EndpointDirIn == 0 {
		m.writes = append(m.writes, transferRecord{endpoint: endpoint, data: append([]byte(nil), data...)})
		n := len(data)
		if m.shortWrite && n > 0 {
			n--
		}
		m.mu.Unlock()
		return n, nil
	}
	if q := m.responses[endpoint]; len(q) > 0 {
		m.responses[endpoint] = q[1:]
		m.mu.Unlock()
		return copy(data, q[0]), nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return 0, ctx.Err()
}

func (m *mockTransport) InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-m.irqErr:
		return 0, err
	case payload := <-m.irq:
		return copy(data, payload), nil
	}
}

func (m *mockTransport) StringDescriptor(ctx context.Context, index uint8) (string, error) {
	s, ok := m.strings[index]
	if !ok {
		return "", pkg.ErrStall
	}
	return s, nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockTransport) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// =============================================================================
// Mock Backend for Testing
// =============================================================================

// mockBackend counts lifecycle calls.
type mockBackend struct {
	startErr error
	starts   int
	stops    int
	frees    int
	mu       sync.Mutex
}

func (b *mockBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	return b.startErr
}

func (b *mockBackend) Stop(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
}

func (b *mockBackend) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frees++
}

func (b *mockBackend) counts() (starts, stops, frees int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.stops, b.frees
}

// newTestInterface creates an interface over a fresh mock transport.
func newTestInterface() (*Interface, *mockTransport) {
	m := newMockTransport()
	intf, err := NewInterface(Config{Transport: m, Platform: PlatformAYS, Protocol: Protocol1553})
	if err != nil {
		panic(err)
	}
	return intf, m
}
