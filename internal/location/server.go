package location

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/config"
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

// Server resolves Type-0 requests into Type-1 responses.
type Server struct {
	cfg    config.LocationConfig
	store  GeometryStore
	cache  *areaCache
	logger *zap.SugaredLogger
}

// New creates the location server around a geometry store.
func New(cfg config.LocationConfig, store GeometryStore, logger *zap.SugaredLogger) *Server {
	ttl := cfg.CoordinateCacheTTL()
	if ttl <= 0 {
		ttl = 168 * time.Hour
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		cache:  newAreaCache(ttl),
		logger: logger,
	}
}

// HandlePacket validates a location request, resolves the area code, and
// answers with a Type-1 preserving the request's flags, day, source, and
// coordinates so the proxy can build the follow-up query and update its own
// cache.
func (s *Server) HandlePacket(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	if p.Type != packet.TypeLocationRequest {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "unexpected packet type %s", p.Type)
	}
	if !p.ExFlag {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "location request without extended field")
	}
	lat, lon, ok := p.Coordinates()
	if !ok {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "location request without coordinates")
	}

	key := cacheKey(lon, lat)
	code, hit := s.cache.get(key)
	if !hit {
		lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout())
		defer cancel()
		var err error
		code, err = s.store.ResolveArea(lookupCtx, lat, lon)
		if err != nil {
			return nil, nil, server.Errorf(packet.ErrCodeLocationError, "resolving (%f, %f): %v", lat, lon, err)
		}
		s.cache.put(key, code)
	} else {
		s.logger.Debugf("area cache hit %s -> %s", key, code)
	}

	area, err := packet.ParseAreaCode(code)
	if err != nil {
		return nil, nil, server.Errorf(packet.ErrCodeLocationError, "bad area code %q from store: %v", code, err)
	}

	resp := *p
	resp.Version = uint8(s.cfg.ProtocolVersion)
	resp.Type = packet.TypeLocationResponse
	resp.AreaCode = area
	resp.Timestamp = time.Now().Unix()
	// The hop's auth digest must not travel further.
	resp.Extended = append(packet.Fields(nil), p.Extended...)
	resp.Extended = resp.Extended.Remove(packet.KeyAuthHash)
	return &resp, remote, nil
}
