// Package proxy implements the Weather Server: the single UDP endpoint
// clients talk to. It classifies packets by type, short-circuits answers
// from its two caches, rewrites the Extended Field source record, and
// forwards to the Location, Query, and Report servers. Backend replies
// re-enter the same dispatch loop as fresh datagrams, so the proxy keeps no
// correlation table: the source record inside the packet is the only state.
package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/cache"
	"github.com/wxproto/wip/internal/config"
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

// sendFunc writes one packet out the proxy's listen socket.
type sendFunc func(*packet.Packet, *net.UDPAddr) error

// Server is the Weather Server proxy.
type Server struct {
	cfg    config.WeatherConfig
	logger *zap.SugaredLogger

	coordCache   *cache.CoordinateCache
	weatherCache *cache.WeatherCache

	locationAddr *net.UDPAddr
	queryAddr    *net.UDPAddr
	reportAddr   *net.UDPAddr

	send sendFunc
}

// New creates the proxy, resolves backend addresses, and loads a cache
// snapshot when one is configured.
func New(cfg config.WeatherConfig, logger *zap.SugaredLogger) (*Server, error) {
	locationAddr, err := net.ResolveUDPAddr("udp", cfg.LocationAddr())
	if err != nil {
		return nil, fmt.Errorf("resolving location server address: %w", err)
	}
	queryAddr, err := net.ResolveUDPAddr("udp", cfg.QueryAddr())
	if err != nil {
		return nil, fmt.Errorf("resolving query server address: %w", err)
	}
	reportAddr, err := net.ResolveUDPAddr("udp", cfg.ReportAddr())
	if err != nil {
		return nil, fmt.Errorf("resolving report server address: %w", err)
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		coordCache:   cache.NewCoordinateCache(cfg.CoordinateCacheSize, cfg.CoordinateCacheTTL()),
		weatherCache: cache.NewWeatherCache(cfg.WeatherCacheTTL()),
		locationAddr: locationAddr,
		queryAddr:    queryAddr,
		reportAddr:   reportAddr,
	}

	if cfg.CacheSnapshotPath != "" {
		if err := cache.Load(cfg.CacheSnapshotPath, s.coordCache, s.weatherCache); err != nil {
			logger.Warnf("cache snapshot load failed: %v", err)
		} else if s.coordCache.Len()+s.weatherCache.Len() > 0 {
			logger.Infof("restored %d coordinate and %d weather cache entries",
				s.coordCache.Len(), s.weatherCache.Len())
		}
	}

	return s, nil
}

// AttachDispatcher wires the dispatcher's socket into the proxy so handlers
// can forward through the listen socket. Backend replies then arrive on the
// same socket and are dispatched like any other datagram.
func (s *Server) AttachDispatcher(d *server.Dispatcher) {
	s.send = d.Send
}

// SaveCaches writes the cache snapshot if one is configured. Called on
// graceful shutdown.
func (s *Server) SaveCaches() {
	if s.cfg.CacheSnapshotPath == "" {
		return
	}
	if err := cache.Save(s.cfg.CacheSnapshotPath, s.coordCache, s.weatherCache); err != nil {
		s.logger.Errorf("cache snapshot save failed: %v", err)
		return
	}
	s.logger.Infof("saved %d coordinate and %d weather cache entries",
		s.coordCache.Len(), s.weatherCache.Len())
}

// HandlePacket routes one datagram through the handler matrix.
func (s *Server) HandlePacket(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	switch p.Type {
	case packet.TypeLocationRequest:
		return s.handleLocationRequest(p, remote)
	case packet.TypeLocationResponse:
		return s.handleLocationResponse(p)
	case packet.TypeQueryRequest:
		return s.handleQueryRequest(p, remote)
	case packet.TypeQueryResponse:
		return s.handleQueryResponse(p)
	case packet.TypeReportRequest:
		return s.handleReportRequest(p, remote)
	case packet.TypeReportAck:
		return s.handleReportAck(p)
	case packet.TypeError:
		return s.handleErrorPacket(p)
	}
	return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "unknown packet type %d", p.Type)
}

// fingerprint builds the weather cache key for a packet's area, flags, and
// day.
func fingerprint(p *packet.Packet) cache.Fingerprint {
	return cache.Fingerprint{
		AreaCode: p.AreaCodeString(),
		Flags:    p.FlagBitmap(),
		Day:      p.Day,
	}
}

// synthesizeResponse builds a Type-3 answer from a cache entry, carrying
// only the fields the request's flags ask for.
func (s *Server) synthesizeResponse(req *packet.Packet, entry *cache.WeatherEntry) (*packet.Packet, error) {
	resp := &packet.Packet{
		Version:         uint8(s.cfg.ProtocolVersion),
		PacketID:        req.PacketID,
		Type:            packet.TypeQueryResponse,
		WeatherFlag:     req.WeatherFlag,
		TemperatureFlag: req.TemperatureFlag,
		PopFlag:         req.PopFlag,
		AlertFlag:       req.AlertFlag,
		DisasterFlag:    req.DisasterFlag,
		Day:             req.Day,
		Timestamp:       time.Now().Unix(),
		AreaCode:        req.AreaCode,
	}
	if req.WeatherFlag {
		resp.WeatherCode = entry.WeatherCode
	}
	if req.TemperatureFlag {
		if err := resp.SetTemperatureCelsius(entry.Temperature); err != nil {
			return nil, err
		}
	}
	if req.PopFlag {
		resp.Pop = entry.Pop
	}
	if req.AlertFlag {
		for _, a := range entry.Alerts {
			resp.AddAlert(a)
		}
	}
	if req.DisasterFlag {
		for _, d := range entry.Disasters {
			resp.AddDisaster(d)
		}
	}
	// Echo coordinates for client convenience when the request carried them.
	if lat, lon, ok := req.Coordinates(); ok {
		if err := resp.SetCoordinates(lat, lon); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// errorPacket builds a Type-7 response toward an origin.
func (s *Server) errorPacket(req *packet.Packet, code uint16) *packet.Packet {
	return &packet.Packet{
		Version:     uint8(s.cfg.ProtocolVersion),
		PacketID:    req.PacketID,
		Type:        packet.TypeError,
		Timestamp:   time.Now().Unix(),
		AreaCode:    req.AreaCode,
		WeatherCode: code,
	}
}
