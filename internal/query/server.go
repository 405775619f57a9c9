package query

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/config"
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

// Server answers Type-2 queries from the document store.
type Server struct {
	cfg       config.QueryConfig
	store     DocumentStore
	refresher Refresher
	logger    *zap.SugaredLogger
}

// New creates the query server. A nil refresher disables freshness
// triggers.
func New(cfg config.QueryConfig, store DocumentStore, refresher Refresher, logger *zap.SugaredLogger) *Server {
	if refresher == nil {
		refresher = NoopRefresher{}
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		logger:    logger,
	}
}

// HandlePacket validates a query request, ensures alert/disaster data is
// fresh enough, and builds the Type-3 response from the stored document.
func (s *Server) HandlePacket(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	if p.Type != packet.TypeQueryRequest {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "unexpected packet type %s", p.Type)
	}
	if p.AreaCode == 0 {
		return nil, nil, server.Errorf(packet.ErrCodeMissingArea, "query request without area code")
	}
	if !p.AnyDataFlag() {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "query request with no data flags")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout())
	defer cancel()

	s.ensureFresh(opCtx, p)

	doc, err := s.store.GetDocument(opCtx, p.AreaCodeString())
	if err != nil {
		return nil, nil, server.Errorf(packet.ErrCodeQueryError, "loading area %s: %v", p.AreaCodeString(), err)
	}

	resp, err := s.buildResponse(p, doc)
	if err != nil {
		return nil, nil, server.Errorf(packet.ErrCodeQueryError, "building response for %s: %v", p.AreaCodeString(), err)
	}
	return resp, remote, nil
}

// ensureFresh checks the alert/disaster pull timestamps against the
// staleness bound and triggers the matching refresh before serving. Refresh
// failures are logged, not fatal: stale data beats no data.
func (s *Server) ensureFresh(ctx context.Context, p *packet.Packet) {
	bound := s.cfg.StalenessBound()
	if p.AlertFlag {
		if s.isStale(ctx, KeyAlertPullTime, bound) {
			if err := s.refresher.RefreshAlerts(ctx); err != nil {
				s.logger.Warnf("alert refresh failed: %v", err)
			}
		}
	}
	if p.DisasterFlag {
		if s.isStale(ctx, KeyDisasterPullTime, bound) {
			if err := s.refresher.RefreshDisasters(ctx); err != nil {
				s.logger.Warnf("disaster refresh failed: %v", err)
			}
		}
	}
}

func (s *Server) isStale(ctx context.Context, key string, bound time.Duration) bool {
	pulled, err := s.store.GetPullTime(ctx, key)
	if err != nil {
		s.logger.Warnf("reading %s: %v", key, err)
		return false
	}
	return time.Since(pulled) > bound
}

// buildResponse extracts exactly the flag-selected fields at the requested
// day from the document.
func (s *Server) buildResponse(req *packet.Packet, doc *Document) (*packet.Packet, error) {
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

	day := int(req.Day)
	if req.WeatherFlag {
		resp.WeatherCode = uint16(dayValue(doc.Weather, day))
	}
	if req.TemperatureFlag {
		if err := resp.SetTemperatureCelsius(dayValue(doc.Temperature, day)); err != nil {
			return nil, err
		}
	}
	if req.PopFlag {
		pop := dayValue(doc.PrecipitationProb, day)
		if pop < 0 {
			pop = 0
		}
		if pop > 100 {
			pop = 100
		}
		resp.Pop = uint8(pop)
	}
	if req.AlertFlag {
		for _, w := range doc.Warnings {
			resp.AddAlert(w)
		}
	}
	if req.DisasterFlag {
		for _, d := range doc.DisasterInfo {
			resp.AddDisaster(d)
		}
	}

	// The source record travels back so the proxy can deliver the answer;
	// request coordinates are echoed for client convenience.
	if src, ok := req.Extended.Get(packet.KeySource); ok {
		resp.Extended = resp.Extended.Set(packet.KeySource, src)
		resp.ExFlag = true
	}
	if lat, lon, ok := req.Coordinates(); ok {
		if err := resp.SetCoordinates(lat, lon); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// dayValue indexes a parallel array safely; missing days read as zero.
func dayValue(values []int, day int) int {
	if day < 0 || day >= len(values) {
		return 0
	}
	return values[day]
}
