package report

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/config"
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

// Server turns Type-4 sensor reports into stored records and Type-5 acks.
type Server struct {
	cfg    config.ReportConfig
	store  *FileStore
	logger *zap.SugaredLogger
}

// New creates the report server around a file store.
func New(cfg config.ReportConfig, store *FileStore, logger *zap.SugaredLogger) *Server {
	return &Server{cfg: cfg, store: store, logger: logger}
}

// HandlePacket validates a report, persists the flag-selected sensor tuple,
// and acknowledges with a Type-5 carrying the same packet id and area.
func (s *Server) HandlePacket(ctx context.Context, p *packet.Packet, remote *net.UDPAddr) (*packet.Packet, *net.UDPAddr, error) {
	if p.Type != packet.TypeReportRequest {
		return nil, nil, server.Errorf(packet.ErrCodeBadPacket, "unexpected packet type %s", p.Type)
	}
	if p.AreaCode == 0 {
		return nil, nil, server.Errorf(packet.ErrCodeMissingArea, "report without area code")
	}

	area := p.AreaCodeString()
	created, err := s.store.Append(area, recordFromPacket(p))
	if err != nil {
		return nil, nil, server.Errorf(packet.ErrCodeServerError, "storing report for %s: %v", area, err)
	}
	if created {
		s.logger.Infof("new report log started for area %s", area)
	}

	ack := &packet.Packet{
		Version:   uint8(s.cfg.ProtocolVersion),
		PacketID:  p.PacketID,
		Type:      packet.TypeReportAck,
		Timestamp: time.Now().Unix(),
		AreaCode:  p.AreaCode,
	}
	// The source record rides along so the proxy can route the ack home.
	if src, ok := p.Extended.Get(packet.KeySource); ok {
		ack.Extended = ack.Extended.Set(packet.KeySource, src)
		ack.ExFlag = true
	}
	return ack, remote, nil
}

// recordFromPacket extracts exactly the flag-selected measurements. The
// temperature byte loses its wire bias here; stored values are Celsius.
func recordFromPacket(p *packet.Packet) Record {
	rec := Record{Timestamp: p.Timestamp}
	if p.WeatherFlag {
		wc := int(p.WeatherCode)
		rec.WeatherCode = &wc
	}
	if p.TemperatureFlag {
		tc := p.TemperatureCelsius()
		rec.Temperature = &tc
	}
	if p.PopFlag {
		pop := int(p.Pop)
		rec.Pop = &pop
	}
	rec.Alerts = p.Alerts()
	rec.Disasters = p.Disasters()
	return rec
}
