package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/packet"
)

// Demux routes reply datagrams on a shared socket to the waiter whose
// 12-bit packet id matches. Concurrent requesters with distinct ids each see
// exactly their own reply regardless of arrival order. Datagrams nobody is
// waiting for are dropped.
type Demux struct {
	conn    *net.UDPConn
	bufSize int
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	waiters map[uint16]chan *packet.Packet
	running bool
}

// NewDemux wraps an already-bound UDP socket.
func NewDemux(conn *net.UDPConn, bufSize int, logger *zap.SugaredLogger) *Demux {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Demux{
		conn:    conn,
		bufSize: bufSize,
		logger:  logger,
		waiters: make(map[uint16]chan *packet.Packet),
	}
}

// Run reads datagrams and routes them by packet id until the context is
// cancelled or the socket closes.
func (m *Demux) Run(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	buffer := make([]byte, m.bufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := m.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			m.logger.Debugf("demux read error: %v", err)
			return
		}

		id, ok := packet.PeekPacketID(buffer[:n])
		if !ok {
			continue
		}
		p, err := packet.Decode(buffer[:n])
		if err != nil {
			m.logger.Debugf("demux decode error: %v", err)
			continue
		}

		m.mu.Lock()
		ch := m.waiters[id]
		m.mu.Unlock()
		if ch == nil {
			m.logger.Debugf("demux: no waiter for packet id %d, dropping", id)
			continue
		}
		select {
		case ch <- p:
		default:
			// Waiter already satisfied; duplicate reply.
		}
	}
}

// Pending is a claimed reply slot for one packet id. Claiming the slot
// before the request is written to the socket closes the window where a
// fast reply would find no waiter and be dropped.
type Pending struct {
	m  *Demux
	id uint16
	ch chan *packet.Packet
}

// Register claims the reply slot for id. The caller must release it with
// Cancel unless Wait is called.
func (m *Demux) Register(id uint16) (*Pending, error) {
	ch := make(chan *packet.Packet, 1)

	m.mu.Lock()
	if _, busy := m.waiters[id]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("packet id %d already has a waiter", id)
	}
	m.waiters[id] = ch
	m.mu.Unlock()

	return &Pending{m: m, id: id, ch: ch}, nil
}

// Cancel releases the slot. Safe to call after Wait.
func (p *Pending) Cancel() {
	p.m.mu.Lock()
	delete(p.m.waiters, p.id)
	p.m.mu.Unlock()
}

// Wait blocks until the matching reply arrives or the deadline passes. The
// slot is released either way.
func (p *Pending) Wait(ctx context.Context, deadline time.Duration) (*packet.Packet, error) {
	defer p.Cancel()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case pkt := <-p.ch:
		return pkt, nil
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for reply to packet id %d", p.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveWithID registers and waits in one step, for callers whose request
// is already in flight on a different socket than the reply path.
func (m *Demux) ReceiveWithID(ctx context.Context, id uint16, deadline time.Duration) (*packet.Packet, error) {
	pending, err := m.Register(id)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx, deadline)
}
