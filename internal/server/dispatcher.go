// Package server provides the shared request dispatcher runtime: a UDP
// receive loop feeding a bounded worker pool, per-request authentication,
// mutex-guarded counters, and reply demultiplexing for shared sockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/packet"
)

// Handler processes one decoded datagram. It returns the packet to send and
// its destination, or a nil packet to drop the datagram. A returned *Error
// is converted into a Type-7 reply toward the sender.
type Handler interface {
	HandlePacket(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error)

func (f HandlerFunc) HandlePacket(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	return f(ctx, p, remote)
}

// Config holds dispatcher settings. Zero values select defaults.
type Config struct {
	Name            string
	ListenAddr      string
	MaxWorkers      int
	BufferSize      int
	ProtocolVersion uint8

	AuthEnabled   bool
	AuthTypes     []packet.Type // default {ReportRequest, ReportAck}
	Passphrase    string
	HashAlgorithm string

	// StatusAddr enables the debug HTTP status listener when non-empty.
	StatusAddr string
}

// Dispatcher owns one server's UDP socket and worker pool. The receive loop
// is single-threaded; each datagram is handled end-to-end by one worker.
type Dispatcher struct {
	cfg       Config
	conn      *net.UDPConn
	pool      *ants.Pool
	handler   Handler
	authTypes map[packet.Type]bool
	stats     *Stats
	logger    *zap.SugaredLogger
}

// New binds the listen socket and creates the worker pool.
func New(cfg Config, handler Handler, logger *zap.SugaredLogger) (*Dispatcher, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = packet.DefaultHashAlgorithm
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start UDP listener: %w", err)
	}

	pool, err := ants.NewPool(cfg.MaxWorkers)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	authTypes := make(map[packet.Type]bool)
	if len(cfg.AuthTypes) == 0 {
		authTypes[packet.TypeReportRequest] = true
		authTypes[packet.TypeReportAck] = true
	} else {
		for _, t := range cfg.AuthTypes {
			authTypes[t] = true
		}
	}

	return &Dispatcher{
		cfg:       cfg,
		conn:      conn,
		pool:      pool,
		handler:   handler,
		authTypes: authTypes,
		stats:     NewStats(),
		logger:    logger,
	}, nil
}

// Conn exposes the listen socket for components that forward through it.
func (d *Dispatcher) Conn() *net.UDPConn {
	return d.conn
}

// LocalAddr returns the bound address.
func (d *Dispatcher) LocalAddr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Snapshot {
	return d.stats.Snapshot()
}

// Run reads datagrams until the context is cancelled. Worker submission
// blocks when the pool is saturated; backpressure is the OS receive buffer
// filling and dropping further datagrams.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.pool.Release()
	defer d.conn.Close()

	if d.cfg.StatusAddr != "" {
		go d.serveStatus(ctx)
	}

	d.logger.Infof("%s listening on %s (%d workers)", d.cfg.Name, d.conn.LocalAddr(), d.cfg.MaxWorkers)

	buffer := make([]byte, d.cfg.BufferSize)
	for {
		select {
		case <-ctx.Done():
			d.logger.Infof("%s receive loop stopped", d.cfg.Name)
			return nil
		default:
		}

		// Read deadline allows periodic context checking.
		d.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Errorf("UDP read error: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		addr := *remote
		if err := d.pool.Submit(func() {
			d.handleDatagram(ctx, data, &addr)
		}); err != nil {
			d.stats.IncError()
			d.logger.Errorf("worker submit failed: %v", err)
		}
	}
}

// handleDatagram runs the full per-datagram pipeline in one worker: decode,
// validate, authenticate, handle, send.
func (d *Dispatcher) handleDatagram(ctx context.Context, data []byte, remote *net.UDPAddr) {
	d.stats.IncRequest()
	start := time.Now()

	p, err := packet.Decode(data)
	parseElapsed := time.Since(start)
	if err != nil {
		// No source is recoverable from an undecodable datagram; log and drop.
		d.stats.IncError()
		d.logger.Errorw("decode failed", "remote", remote.String(), "error", err)
		return
	}

	if p.Version != d.cfg.ProtocolVersion {
		d.stats.IncError()
		d.respondError(p, remote, packet.ErrCodeVersion)
		return
	}

	if d.cfg.AuthEnabled && d.authTypes[p.Type] {
		ok, err := packet.VerifyAuthHash(d.cfg.HashAlgorithm, p, d.cfg.Passphrase)
		if err != nil || !ok {
			d.stats.IncError()
			d.logger.Warnw("authentication failed", "packet", p.String(), "remote", remote.String())
			d.respondError(p, remote, packet.ErrCodeAuth)
			return
		}
	}

	handleStart := time.Now()
	resp, dest, err := d.handler.HandlePacket(ctx, p, remote)
	handleElapsed := time.Since(handleStart)
	if err != nil {
		d.stats.IncError()
		code := uint16(packet.ErrCodeServerError)
		var perr *Error
		if errors.As(err, &perr) {
			code = perr.Code
		}
		d.logger.Errorw("handler failed", "packet", p.String(), "error", err)
		d.respondError(p, remote, code)
		return
	}

	sendStart := time.Now()
	if resp != nil && dest != nil {
		if err := d.Send(resp, dest); err != nil {
			d.stats.IncError()
			d.logger.Errorw("send failed", "packet", resp.String(), "dest", dest.String(), "error", err)
			return
		}
	}
	d.stats.IncSuccess()

	d.logger.Debugw("handled",
		"packet", p.String(),
		"remote", remote.String(),
		"parse", parseElapsed,
		"handle", handleElapsed,
		"send", time.Since(sendStart),
	)
}

// Send encodes a packet and writes it out the listen socket.
func (d *Dispatcher) Send(p *packet.Packet, dest *net.UDPAddr) error {
	data, err := packet.Encode(p)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	n, err := d.conn.WriteToUDP(data, dest)
	if err != nil {
		return err
	}
	if n != len(data) {
		return Errorf(packet.ErrCodeLength, "short write: %d of %d bytes", n, len(data))
	}
	return nil
}

// respondError sends a Type-7 packet toward the sender, carrying the
// request's packet id and area code. The source record is copied from the
// request so intermediaries can route the error to its true origin.
func (d *Dispatcher) respondError(req *packet.Packet, remote *net.UDPAddr, code uint16) {
	errPkt := &packet.Packet{
		Version:     d.cfg.ProtocolVersion,
		PacketID:    req.PacketID,
		Type:        packet.TypeError,
		Timestamp:   time.Now().Unix(),
		AreaCode:    req.AreaCode,
		WeatherCode: code,
	}
	if src, ok := req.Extended.Get(packet.KeySource); ok {
		errPkt.Extended = errPkt.Extended.Set(packet.KeySource, src)
		errPkt.ExFlag = true
	}
	if err := d.Send(errPkt, remote); err != nil {
		d.logger.Errorw("error reply failed", "code", code, "remote", remote.String(), "error", err)
	}
}
