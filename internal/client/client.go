// Package client is the Go client for the Weather Server. It builds request
// packets, sends them over a shared UDP socket, and matches replies by packet
// id, so concurrent requests from one client interleave safely.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

// Options selects which fields a request asks for.
type Options struct {
	Weather     bool
	Temperature bool
	Pop         bool
	Alerts      bool
	Disasters   bool
	// Day is the forecast day offset, 0 (today) through 7.
	Day uint8
}

// DefaultOptions requests the three numeric fields for today.
func DefaultOptions() Options {
	return Options{Weather: true, Temperature: true, Pop: true}
}

// Report carries one sensor submission. Nil measurement fields are omitted
// from the packet.
type Report struct {
	AreaCode    string
	WeatherCode *int
	Temperature *int
	Pop         *int
	Alerts      []string
	Disasters   []string
}

// Response is the decoded answer to a query.
type Response struct {
	AreaCode    string
	Day         uint8
	WeatherCode *int
	Temperature *int
	Pop         *int
	Alerts      []string
	Disasters   []string
}

// ServerError is a Type-7 answer from the server chain.
type ServerError struct {
	Code uint16
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d", e.Code)
}

// Client talks to one Weather Server. Safe for concurrent use.
type Client struct {
	conn    *net.UDPConn
	dst     *net.UDPAddr
	demux   *server.Demux
	logger  *zap.SugaredLogger
	timeout time.Duration
	version uint8

	authEnabled   bool
	passphrase    string
	hashAlgorithm string

	mu     sync.Mutex
	nextID uint16

	cancel context.CancelFunc
}

// Config tunes the client.
type Config struct {
	// ServerAddr is the Weather Server "host:port".
	ServerAddr string
	// Timeout bounds each request round trip. Default 10 s.
	Timeout time.Duration
	// ProtocolVersion defaults to the current protocol version.
	ProtocolVersion uint8
	// AuthEnabled makes report requests carry an auth digest.
	AuthEnabled   bool
	Passphrase    string
	HashAlgorithm string
	BufferSize    int
}

// New dials the server and starts the reply demultiplexer.
func New(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	dst, err := net.ResolveUDPAddr("udp", cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving server address: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("binding client socket: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = packet.CurrentVersion
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = packet.DefaultHashAlgorithm
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:          conn,
		dst:           dst,
		demux:         server.NewDemux(conn, cfg.BufferSize, logger),
		logger:        logger,
		timeout:       cfg.Timeout,
		version:       cfg.ProtocolVersion,
		authEnabled:   cfg.AuthEnabled,
		passphrase:    cfg.Passphrase,
		hashAlgorithm: cfg.HashAlgorithm,
		nextID:        uint16(time.Now().UnixNano() % packet.MaxPacketID),
		cancel:        cancel,
	}
	go c.demux.Run(ctx)
	return c, nil
}

// Close stops the demultiplexer and releases the socket.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close()
}

// allocID hands out packet ids, wrapping mod 4096.
func (c *Client) allocID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID = (c.nextID + 1) % packet.MaxPacketID
	return id
}

// QueryByCoordinates resolves (lat, lon) through the full pipeline and
// returns the weather answer.
func (c *Client) QueryByCoordinates(ctx context.Context, lat, lon float64, opts Options) (*Response, error) {
	p := c.newRequest(packet.TypeLocationRequest, opts)
	if err := p.SetCoordinates(lat, lon); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, p)
}

// QueryByArea asks for the weather of a known 6-digit area code.
func (c *Client) QueryByArea(ctx context.Context, areaCode string, opts Options) (*Response, error) {
	code, err := packet.ParseAreaCode(areaCode)
	if err != nil {
		return nil, err
	}
	p := c.newRequest(packet.TypeQueryRequest, opts)
	p.AreaCode = code
	return c.roundTrip(ctx, p)
}

// SendReport submits one sensor report and waits for the ack.
func (c *Client) SendReport(ctx context.Context, rep Report) error {
	code, err := packet.ParseAreaCode(rep.AreaCode)
	if err != nil {
		return err
	}
	p := &packet.Packet{
		Version:   c.version,
		PacketID:  c.allocID(),
		Type:      packet.TypeReportRequest,
		Timestamp: time.Now().Unix(),
		AreaCode:  code,
	}
	if rep.WeatherCode != nil {
		p.WeatherFlag = true
		p.WeatherCode = uint16(*rep.WeatherCode)
	}
	if rep.Temperature != nil {
		p.TemperatureFlag = true
		if err := p.SetTemperatureCelsius(*rep.Temperature); err != nil {
			return err
		}
	}
	if rep.Pop != nil {
		p.PopFlag = true
		p.Pop = uint8(*rep.Pop)
	}
	for _, a := range rep.Alerts {
		p.AddAlert(a)
	}
	for _, d := range rep.Disasters {
		p.AddDisaster(d)
	}
	if c.authEnabled {
		if err := p.Authenticate(c.hashAlgorithm, c.passphrase); err != nil {
			return err
		}
		p.RequestAuth = true
	}

	reply, err := c.exchange(ctx, p)
	if err != nil {
		return err
	}
	if reply.Type == packet.TypeError {
		return &ServerError{Code: reply.WeatherCode}
	}
	if reply.Type != packet.TypeReportAck {
		return fmt.Errorf("unexpected reply type %s", reply.Type)
	}
	return nil
}

func (c *Client) newRequest(t packet.Type, opts Options) *packet.Packet {
	return &packet.Packet{
		Version:         c.version,
		PacketID:        c.allocID(),
		Type:            t,
		WeatherFlag:     opts.Weather,
		TemperatureFlag: opts.Temperature,
		PopFlag:         opts.Pop,
		AlertFlag:       opts.Alerts,
		DisasterFlag:    opts.Disasters,
		Day:             opts.Day,
		Timestamp:       time.Now().Unix(),
	}
}

// roundTrip sends a query-style request and decodes the Type-3 answer.
func (c *Client) roundTrip(ctx context.Context, p *packet.Packet) (*Response, error) {
	reply, err := c.exchange(ctx, p)
	if err != nil {
		return nil, err
	}
	if reply.Type == packet.TypeError {
		return nil, &ServerError{Code: reply.WeatherCode}
	}
	if reply.Type != packet.TypeQueryResponse {
		return nil, fmt.Errorf("unexpected reply type %s", reply.Type)
	}

	resp := &Response{
		AreaCode:  reply.AreaCodeString(),
		Day:       reply.Day,
		Alerts:    reply.Alerts(),
		Disasters: reply.Disasters(),
	}
	if reply.WeatherFlag {
		wc := int(reply.WeatherCode)
		resp.WeatherCode = &wc
	}
	if reply.TemperatureFlag {
		tc := reply.TemperatureCelsius()
		resp.Temperature = &tc
	}
	if reply.PopFlag {
		pop := int(reply.Pop)
		resp.Pop = &pop
	}
	return resp, nil
}

// exchange encodes, sends, and waits for the reply matching the packet id.
// The reply slot is claimed before the write so a reply arriving faster than
// the waiter is buffered, not dropped.
func (c *Client) exchange(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	data, err := packet.Encode(p)
	if err != nil {
		return nil, err
	}
	pending, err := c.demux.Register(p.PacketID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := c.conn.WriteToUDP(data, c.dst); err != nil {
		pending.Cancel()
		return nil, fmt.Errorf("sending %s: %w", p.Type, err)
	}
	reply, err := pending.Wait(ctx, c.timeout)
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("%s id=%d answered in %s", p.Type, p.PacketID, time.Since(start).Round(time.Microsecond))
	return reply, nil
}
