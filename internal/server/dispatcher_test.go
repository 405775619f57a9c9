package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/packet"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// echoHandler answers every request with a QueryResponse to the sender.
func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
		resp := &packet.Packet{
			Version:     p.Version,
			PacketID:    p.PacketID,
			Type:        packet.TypeQueryResponse,
			Timestamp:   time.Now().Unix(),
			AreaCode:    p.AreaCode,
			WeatherCode: 100,
		}
		return resp, remote, nil
	})
}

func startDispatcher(t *testing.T, cfg Config, h Handler) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.Name == "" {
		cfg.Name = "test server"
	}
	cfg.ProtocolVersion = 1

	d, err := New(cfg, h, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)
	return d, cancel
}

func clientConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendAndReceive(t *testing.T, conn *net.UDPConn, dest *net.UDPAddr, p *packet.Packet) *packet.Packet {
	t.Helper()
	data, err := packet.Encode(p)
	require.NoError(t, err)
	_, err = conn.WriteToUDP(data, dest)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	resp, err := packet.Decode(buf[:n])
	require.NoError(t, err)
	return resp
}

func TestDispatcherHandlesRequest(t *testing.T) {
	d, _ := startDispatcher(t, Config{}, echoHandler())
	conn := clientConn(t)

	req := &packet.Packet{Version: 1, PacketID: 42, Type: packet.TypeQueryRequest, AreaCode: 130000, WeatherFlag: true}
	resp := sendAndReceive(t, conn, d.LocalAddr(), req)

	assert.Equal(t, packet.TypeQueryResponse, resp.Type)
	assert.Equal(t, uint16(42), resp.PacketID)
	assert.Equal(t, uint16(100), resp.WeatherCode)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Requests)
	assert.Equal(t, uint64(1), stats.Success)
}

func TestDispatcherVersionMismatch(t *testing.T) {
	d, _ := startDispatcher(t, Config{}, echoHandler())
	conn := clientConn(t)

	req := &packet.Packet{Version: 2, PacketID: 7, Type: packet.TypeQueryRequest}
	resp := sendAndReceive(t, conn, d.LocalAddr(), req)

	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, uint16(packet.ErrCodeVersion), resp.WeatherCode)
	assert.Equal(t, uint16(7), resp.PacketID)
}

func TestDispatcherAuthRequired(t *testing.T) {
	d, _ := startDispatcher(t, Config{
		AuthEnabled:   true,
		AuthTypes:     []packet.Type{packet.TypeQueryRequest},
		Passphrase:    "k",
		HashAlgorithm: "sha512",
	}, echoHandler())
	conn := clientConn(t)

	// No auth_hash record at all.
	req := &packet.Packet{Version: 1, PacketID: 9, Type: packet.TypeQueryRequest, Timestamp: time.Now().Unix()}
	resp := sendAndReceive(t, conn, d.LocalAddr(), req)
	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, uint16(packet.ErrCodeAuth), resp.WeatherCode)

	// Correct digest passes through to the handler.
	authed := &packet.Packet{Version: 1, PacketID: 10, Type: packet.TypeQueryRequest, Timestamp: time.Now().Unix()}
	require.NoError(t, authed.Authenticate("sha512", "k"))
	resp = sendAndReceive(t, conn, d.LocalAddr(), authed)
	assert.Equal(t, packet.TypeQueryResponse, resp.Type)

	// Wrong passphrase fails terminally.
	bad := &packet.Packet{Version: 1, PacketID: 11, Type: packet.TypeQueryRequest, Timestamp: time.Now().Unix()}
	require.NoError(t, bad.Authenticate("sha512", "wrong"))
	resp = sendAndReceive(t, conn, d.LocalAddr(), bad)
	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, uint16(packet.ErrCodeAuth), resp.WeatherCode)
}

func TestDispatcherAuthNotRequiredForOtherTypes(t *testing.T) {
	// Default auth set is {ReportRequest, ReportAck}; queries pass without a
	// digest even when auth is enabled.
	d, _ := startDispatcher(t, Config{AuthEnabled: true, Passphrase: "k"}, echoHandler())
	conn := clientConn(t)

	req := &packet.Packet{Version: 1, PacketID: 12, Type: packet.TypeQueryRequest}
	resp := sendAndReceive(t, conn, d.LocalAddr(), req)
	assert.Equal(t, packet.TypeQueryResponse, resp.Type)
}

func TestDispatcherHandlerErrorBecomesType7(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
		return nil, nil, Errorf(packet.ErrCodeMissingArea, "area unset")
	})
	d, _ := startDispatcher(t, Config{}, h)
	conn := clientConn(t)

	req := &packet.Packet{Version: 1, PacketID: 77, Type: packet.TypeQueryRequest}
	resp := sendAndReceive(t, conn, d.LocalAddr(), req)
	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, uint16(packet.ErrCodeMissingArea), resp.WeatherCode)
	assert.Equal(t, uint16(77), resp.PacketID)
}

func TestDispatcherErrorCopiesSource(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
		return nil, nil, Errorf(packet.ErrCodeQueryError, "boom")
	})
	d, _ := startDispatcher(t, Config{}, h)
	conn := clientConn(t)

	origin := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 9999}
	req := &packet.Packet{Version: 1, PacketID: 3, Type: packet.TypeQueryRequest}
	req.SetSource(origin)

	resp := sendAndReceive(t, conn, d.LocalAddr(), req)
	assert.Equal(t, packet.TypeError, resp.Type)
	assert.True(t, resp.ExFlag)
	src, ok := resp.Source()
	require.True(t, ok)
	assert.Equal(t, origin.String(), src.String())
}

func TestDispatcherDropsCorruptDatagram(t *testing.T) {
	d, _ := startDispatcher(t, Config{}, echoHandler())
	conn := clientConn(t)

	req := &packet.Packet{Version: 1, PacketID: 1, Type: packet.TypeQueryRequest}
	data, err := packet.Encode(req)
	require.NoError(t, err)
	data[15] ^= 0x10 // corrupt the checksum field

	_, err = conn.WriteToUDP(data, d.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadFromUDP(buf)
	assert.Error(t, err, "no reply for an undecodable datagram")

	require.Eventually(t, func() bool {
		return d.Stats().Errors == 1
	}, time.Second, 10*time.Millisecond)
}
