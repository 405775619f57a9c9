package proxy

import (
	"net"

	"github.com/wxproto/wip/internal/cache"
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

// clonePacket copies a packet so a handler can rewrite it without touching
// the decoded original.
func clonePacket(p *packet.Packet) *packet.Packet {
	q := *p
	q.Extended = append(packet.Fields(nil), p.Extended...)
	return &q
}

// handleLocationRequest serves Type 0. A coordinate cache hit skips the
// Location Server entirely: the request is re-dispatched as a Type-2 query
// for the cached area code. A miss forwards to the Location Server with the
// client's address recorded as source.
func (s *Server) handleLocationRequest(p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	lat, lon, ok := p.Coordinates()
	if !ok {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "location request without coordinates")
	}

	if areaStr, hit := s.coordCache.Get(lat, lon); hit {
		area, err := packet.ParseAreaCode(areaStr)
		if err == nil {
			s.logger.Debugf("coordinate cache hit (%f, %f) -> %s", lat, lon, areaStr)
			q := clonePacket(p)
			q.Type = packet.TypeQueryRequest
			q.AreaCode = area
			return s.handleQueryRequest(q, remote)
		}
		s.logger.Warnf("dropping bad coordinate cache entry %q: %v", areaStr, err)
	}

	fwd := clonePacket(p)
	fwd.SetSource(remote)
	if s.cfg.LocationAuthEnabled {
		if err := fwd.Authenticate(s.cfg.HashAlgorithm, s.cfg.LocationPassphrase); err != nil {
			return nil, nil, server.Errorf(packet.ErrCodeAuth, "location hop auth: %v", err)
		}
	}
	if err := s.send(fwd, s.locationAddr); err != nil {
		return nil, nil, server.Errorf(packet.ErrCodeLocationForward, "forward to location server: %v", err)
	}
	return nil, nil, nil
}

// handleQueryRequest serves Type 2, directly from clients and re-dispatched
// from Type-0 coordinate cache hits. A weather cache hit is answered
// locally; a miss forwards to the Query Server.
func (s *Server) handleQueryRequest(p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	origin := remote
	if src, ok := p.Source(); ok {
		origin = src
	}

	if p.AreaCode == 0 {
		return nil, nil, server.Errorf(packet.ErrCodeMissingArea, "query request without area code")
	}
	if !p.AnyDataFlag() {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "query request with no data flags")
	}

	if entry, hit := s.weatherCache.Get(fingerprint(p)); hit {
		s.logger.Debugf("weather cache hit %s", p.AreaCodeString())
		resp, err := s.synthesizeResponse(p, entry)
		if err != nil {
			return nil, nil, server.Errorf(packet.ErrCodeServerError, "synthesizing cached response: %v", err)
		}
		return resp, origin, nil
	}

	fwd := clonePacket(p)
	fwd.SetSource(origin)
	if s.cfg.QueryAuthEnabled {
		if err := fwd.Authenticate(s.cfg.HashAlgorithm, s.cfg.QueryPassphrase); err != nil {
			return nil, nil, server.Errorf(packet.ErrCodeAuth, "query hop auth: %v", err)
		}
	}
	if err := s.send(fwd, s.queryAddr); err != nil {
		return nil, nil, server.Errorf(packet.ErrCodeQueryForward, "forward to query server: %v", err)
	}
	return nil, nil, nil
}

// handleLocationResponse serves Type 1 arriving from the Location Server.
// The resolved area updates the coordinate cache; a weather cache hit
// answers the client directly, otherwise the response becomes a Type-2
// query toward the Query Server. The sender here is the backend, so any
// failure is reported to the source, not to the sender.
func (s *Server) handleLocationResponse(p *packet.Packet) (*packet.Packet, *net.UDPAddr, error) {
	src, ok := p.Source()
	if !ok {
		s.logger.Warnf("location response without source, dropping: %s", p)
		return nil, nil, nil
	}

	if lat, lon, haveCoords := p.Coordinates(); haveCoords && p.AreaCode != 0 {
		s.coordCache.Put(lat, lon, p.AreaCodeString())
	}

	if entry, hit := s.weatherCache.Get(fingerprint(p)); hit {
		s.logger.Debugf("weather cache hit %s after location resolve", p.AreaCodeString())
		resp, err := s.synthesizeResponse(p, entry)
		if err != nil {
			return s.errorPacket(p, packet.ErrCodeServerError), src, nil
		}
		return resp, src, nil
	}

	q := clonePacket(p)
	q.Type = packet.TypeQueryRequest
	q.Extended = q.Extended.Remove(packet.KeyAuthHash)
	if s.cfg.QueryAuthEnabled {
		if err := q.Authenticate(s.cfg.HashAlgorithm, s.cfg.QueryPassphrase); err != nil {
			s.logger.Errorf("query hop auth: %v", err)
			return s.errorPacket(p, packet.ErrCodeAuth), src, nil
		}
	}
	if err := s.send(q, s.queryAddr); err != nil {
		s.logger.Errorf("forward to query server: %v", err)
		return s.errorPacket(p, packet.ErrCodeQueryForward), src, nil
	}
	return nil, nil, nil
}

// handleQueryResponse serves Type 3 arriving from the Query Server: cache
// the answer, strip the source record, fix the version, and deliver to the
// origin.
func (s *Server) handleQueryResponse(p *packet.Packet) (*packet.Packet, *net.UDPAddr, error) {
	src, ok := p.StripSource()
	if !ok {
		s.logger.Warnf("query response without source, dropping: %s", p)
		return nil, nil, nil
	}

	if p.AreaCode != 0 {
		s.weatherCache.Put(fingerprint(p), cache.WeatherEntry{
			WeatherCode: p.WeatherCode,
			Temperature: p.TemperatureCelsius(),
			Pop:         p.Pop,
			Alerts:      p.Alerts(),
			Disasters:   p.Disasters(),
		})
	}

	p.Version = uint8(s.cfg.ProtocolVersion)
	return p, src, nil
}

// handleReportRequest serves Type 4: record the true client address as
// source (replacing anything the client put there), authenticate the hop if
// configured, and forward to the Report Server.
func (s *Server) handleReportRequest(p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	fwd := clonePacket(p)
	fwd.SetSource(remote)
	if s.cfg.ReportAuthEnabled {
		if err := fwd.Authenticate(s.cfg.HashAlgorithm, s.cfg.ReportPassphrase); err != nil {
			return nil, nil, server.Errorf(packet.ErrCodeAuth, "report hop auth: %v", err)
		}
	}
	if err := s.send(fwd, s.reportAddr); err != nil {
		return nil, nil, server.Errorf(packet.ErrCodeServerError, "forward to report server: %v", err)
	}
	return nil, nil, nil
}

// handleReportAck serves Type 5: strip the source and deliver the ACK to
// the origin.
func (s *Server) handleReportAck(p *packet.Packet) (*packet.Packet, *net.UDPAddr, error) {
	src, ok := p.StripSource()
	if !ok {
		s.logger.Warnf("report ack without source, dropping: %s", p)
		return nil, nil, nil
	}
	p.Version = uint8(s.cfg.ProtocolVersion)
	return p, src, nil
}

// handleErrorPacket serves Type 7 arriving from a backend: deliver the
// error to the origin named by its source record.
func (s *Server) handleErrorPacket(p *packet.Packet) (*packet.Packet, *net.UDPAddr, error) {
	src, ok := p.StripSource()
	if !ok {
		s.logger.Warnf("error packet without source, dropping: %s", p)
		return nil, nil, nil
	}
	return p, src, nil
}
