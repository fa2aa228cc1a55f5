package modem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/metrics"
	"github.com/nexus-edge/fieldbridge/internal/store"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// Router resolves an inbound frame to its configured modem device.
// Implemented by the engine: the unique tcp-modem device whose listen port
// and unit id match, if any.
type Router interface {
	FindModemDevice(listenPort int, unitID uint8) (*domain.Device, bool)
}

// Bank operates TCP listeners on every port of an inclusive range. Each
// accepted connection becomes a session bound to its parent listener's port.
type Bank struct {
	portLo   int
	portHi   int
	router   Router
	values   *store.TagStore
	registry *ConnRegistry
	logger   zerolog.Logger
	metrics  *metrics.Registry

	mu        sync.Mutex
	listeners []net.Listener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBank creates a listener bank for [portLo, portHi].
func NewBank(portLo, portHi int, router Router, values *store.TagStore, registry *ConnRegistry, logger zerolog.Logger, metricsReg *metrics.Registry) *Bank {
	return &Bank{
		portLo:   portLo,
		portHi:   portHi,
		router:   router,
		values:   values,
		registry: registry,
		logger:   logger.With().Str("component", "modem-bank").Logger(),
		metrics:  metricsReg,
	}
}

// Start opens every listener in the range and begins accepting. Ports that
// fail to bind are logged and skipped; the bank itself only fails when not a
// single port could be opened.
func (b *Bank) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	opened := 0
	for port := b.portLo; port <= b.portHi; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			b.logger.Warn().Err(err).Int("port", port).Msg("failed to bind modem listener")
			continue
		}
		opened++

		b.mu.Lock()
		b.listeners = append(b.listeners, ln)
		b.mu.Unlock()

		b.wg.Add(1)
		go b.acceptLoop(ctx, ln, port)
	}

	if opened == 0 {
		cancel()
		return fmt.Errorf("%w: no modem listener port in [%d, %d] could be bound", domain.ErrConnectFailed, b.portLo, b.portHi)
	}

	b.logger.Info().Int("ports", opened).Int("from", b.portLo).Int("to", b.portHi).Msg("modem listener bank started")
	return nil
}

// Stop closes every listener and waits for sessions to drain.
func (b *Bank) Stop() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	listeners := b.listeners
	b.listeners = nil
	b.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	b.wg.Wait()
	b.logger.Info().Msg("modem listener bank stopped")
}

func (b *Bank) acceptLoop(ctx context.Context, ln net.Listener, port int) {
	defer b.wg.Done()

	// Closing the listener unblocks Accept on shutdown.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			b.logger.Warn().Err(err).Int("port", port).Msg("accept failed")
			return
		}

		b.wg.Add(1)
		go b.session(ctx, conn, port)
	}
}

// session serves one inbound connection until the peer closes or shutdown.
// Errors never affect other sessions or the listener.
func (b *Bank) session(ctx context.Context, conn net.Conn, port int) {
	defer b.wg.Done()
	defer conn.Close()

	key := fmt.Sprintf("%s:%d", conn.RemoteAddr().String(), port)
	logger := b.logger.With().Str("peer", conn.RemoteAddr().String()).Int("port", port).Logger()

	b.registry.Add(ConnectionInfo{
		Key:        key,
		RemoteAddr: conn.RemoteAddr().String(),
		ListenPort: port,
		Since:      timeNow(),
	})
	if b.metrics != nil {
		b.metrics.UpdateModemSessions(b.registry.Len())
	}
	logger.Info().Msg("modem connected")

	defer func() {
		b.registry.Remove(key)
		if b.metrics != nil {
			b.metrics.UpdateModemSessions(b.registry.Len())
		}
		logger.Info().Msg("modem disconnected")
	}()

	// Unblock the read on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		req, err := readRequest(conn)
		if err != nil {
			if errors.Is(err, domain.ErrProtocol) {
				// Not a usable Modbus frame: drop it, keep the session.
				if b.metrics != nil {
					b.metrics.RecordModemFrame("malformed")
				}
				logger.Debug().Err(err).Msg("dropping malformed frame")
				continue
			}
			return
		}

		resp, ok := b.answer(req, port, logger)
		if !ok {
			continue
		}
		if _, err := conn.Write(resp); err != nil {
			logger.Warn().Err(err).Msg("failed to write response")
			return
		}
	}
}

// answer composes the response for a request, or reports false when the
// frame is to be dropped silently.
func (b *Bank) answer(req *request, port int, logger zerolog.Logger) ([]byte, bool) {
	device, ok := b.router.FindModemDevice(port, req.UnitID)
	if !ok {
		if b.metrics != nil {
			b.metrics.RecordModemFrame("unroutable")
		}
		logger.Debug().Uint8("unit", req.UnitID).Msg("no modem device for frame")
		return nil, false
	}

	// Only Read Holding Registers is served in this version.
	if req.Function != fcReadHoldingRegisters {
		if b.metrics != nil {
			b.metrics.RecordModemFrame("unsupported")
		}
		logger.Debug().Uint8("fc", req.Function).Msg("unsupported function code")
		return nil, false
	}

	if len(req.Payload) < 4 {
		if b.metrics != nil {
			b.metrics.RecordModemFrame("malformed")
		}
		return nil, false
	}
	start := binary.BigEndian.Uint16(req.Payload[0:2])
	// Quantity is parsed but only the tag at the start address is returned.
	_ = binary.BigEndian.Uint16(req.Payload[2:4])

	tag := tagAtAddress(device, start)
	if tag == nil {
		if b.metrics != nil {
			b.metrics.RecordModemFrame("unroutable")
		}
		logger.Debug().Uint16("address", start).Msg("no tag at requested address")
		return nil, false
	}

	value := domain.Value{Type: tag.DataType}
	if e, ok := b.values.Get(device.ID, tag.Name); ok && e.Value != nil {
		value = *e.Value
	}

	var data []byte
	if tag.DataType == domain.DataTypeFloat {
		data = make([]byte, 4)
		binary.BigEndian.PutUint32(data, math.Float32bits(value.Float))
	} else {
		data = make([]byte, 2)
		binary.BigEndian.PutUint16(data, uint16(int64(math.Round(value.Float64()))))
	}

	if b.metrics != nil {
		b.metrics.RecordModemFrame("answered")
	}
	return respond(req, data), true
}

func tagAtAddress(device *domain.Device, address uint16) *domain.Tag {
	for i := range device.Tags {
		if device.Tags[i].Address == address {
			return &device.Tags[i]
		}
	}
	return nil
}
