package location

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/config"
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

// fakeStore resolves from a fixed table and counts lookups.
type fakeStore struct {
	areas   map[string]string
	err     error
	lookups int
}

func (f *fakeStore) ResolveArea(ctx context.Context, lat, lon float64) (string, error) {
	f.lookups++
	if f.err != nil {
		return "", f.err
	}
	if code, ok := f.areas[cacheKey(lon, lat)]; ok {
		return code, nil
	}
	return "", ErrNoDistrict
}

func (f *fakeStore) Close() {}

func testServer(store GeometryStore) *Server {
	return New(config.Default().Location, store, zap.NewNop().Sugar())
}

func proxyAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4110}
}

func request(id uint16, lat, lon float64) *packet.Packet {
	p := &packet.Packet{
		Version:     1,
		PacketID:    id,
		Type:        packet.TypeLocationRequest,
		WeatherFlag: true,
		AlertFlag:   true,
		Day:         2,
		Timestamp:   time.Now().Unix(),
	}
	if err := p.SetCoordinates(lat, lon); err != nil {
		panic(err)
	}
	p.SetSource(&net.UDPAddr{IP: net.ParseIP("192.0.2.9"), Port: 50001})
	return p
}

func TestResolveReturnsLocationResponse(t *testing.T) {
	store := &fakeStore{areas: map[string]string{cacheKey(139.6917, 35.6895): "130000"}}
	s := testServer(store)

	resp, dest, err := s.HandlePacket(context.Background(), request(123, 35.6895, 139.6917), proxyAddr())
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, proxyAddr().String(), dest.String())

	assert.Equal(t, packet.TypeLocationResponse, resp.Type)
	assert.Equal(t, uint16(123), resp.PacketID)
	assert.Equal(t, "130000", resp.AreaCodeString())

	// Flags, day, source, and coordinates survive for the follow-up query.
	assert.True(t, resp.WeatherFlag)
	assert.True(t, resp.AlertFlag)
	assert.Equal(t, uint8(2), resp.Day)
	_, hasSource := resp.Source()
	assert.True(t, hasSource)
	lat, lon, ok := resp.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 35.6895, lat, 1e-6)
	assert.InDelta(t, 139.6917, lon, 1e-6)
}

func TestResolveUsesCache(t *testing.T) {
	store := &fakeStore{areas: map[string]string{cacheKey(139.6917, 35.6895): "130000"}}
	s := testServer(store)

	for i := 0; i < 3; i++ {
		_, _, err := s.HandlePacket(context.Background(), request(uint16(i), 35.6895, 139.6917), proxyAddr())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.lookups)
	assert.Equal(t, 1, s.cache.len())
}

func TestCacheExpiry(t *testing.T) {
	c := newAreaCache(20 * time.Millisecond)
	c.put("139.691700,35.689500", "130000")
	_, ok := c.get("139.691700,35.689500")
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.get("139.691700,35.689500")
	assert.False(t, ok)
	assert.Equal(t, 0, c.len(), "lazy expiry removes the entry")
}

func TestMissingCoordinatesRejected(t *testing.T) {
	s := testServer(&fakeStore{})

	noExt := &packet.Packet{Version: 1, PacketID: 1, Type: packet.TypeLocationRequest}
	_, _, err := s.HandlePacket(context.Background(), noExt, proxyAddr())
	var perr *server.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeBadPacket), perr.Code)

	onlySource := &packet.Packet{Version: 1, PacketID: 1, Type: packet.TypeLocationRequest}
	onlySource.SetSource(proxyAddr())
	_, _, err = s.HandlePacket(context.Background(), onlySource, proxyAddr())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeBadPacket), perr.Code)
}

func TestWrongTypeRejected(t *testing.T) {
	s := testServer(&fakeStore{})
	q := &packet.Packet{Version: 1, PacketID: 1, Type: packet.TypeQueryRequest}
	_, _, err := s.HandlePacket(context.Background(), q, proxyAddr())
	var perr *server.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeBadPacket), perr.Code)
}

func TestStoreFailureMapsTo510(t *testing.T) {
	s := testServer(&fakeStore{err: errors.New("connection refused")})
	_, _, err := s.HandlePacket(context.Background(), request(1, 35.0, 139.0), proxyAddr())
	var perr *server.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeLocationError), perr.Code)
}

func TestNoDistrictMapsTo510(t *testing.T) {
	s := testServer(&fakeStore{areas: map[string]string{}})
	_, _, err := s.HandlePacket(context.Background(), request(1, 0.0, 0.0), proxyAddr())
	var perr *server.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeLocationError), perr.Code)
}

func TestAuthHashStrippedFromResponse(t *testing.T) {
	store := &fakeStore{areas: map[string]string{cacheKey(139.6917, 35.6895): "130000"}}
	s := testServer(store)

	req := request(5, 35.6895, 139.6917)
	require.NoError(t, req.Authenticate("sha512", "hop-secret"))

	resp, _, err := s.HandlePacket(context.Background(), req, proxyAddr())
	require.NoError(t, err)
	_, has := resp.AuthHash()
	assert.False(t, has)
}
