package query

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

// fakeDocStore serves a fixed set of documents and pull times.
type fakeDocStore struct {
	docs      map[string]*Document
	pullTimes map[string]time.Time
	getErr    error
}

func (f *fakeDocStore) GetDocument(ctx context.Context, areaCode string) (*Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[areaCode]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeDocStore) GetDocuments(ctx context.Context, areaCodes []string) (map[string]*Document, error) {
	out := make(map[string]*Document, len(areaCodes))
	for _, area := range areaCodes {
		out[area] = f.docs[area]
	}
	return out, nil
}

func (f *fakeDocStore) GetPullTime(ctx context.Context, key string) (time.Time, error) {
	return f.pullTimes[key], nil
}

func (f *fakeDocStore) SetPullTime(ctx context.Context, key string, t time.Time) error {
	if f.pullTimes == nil {
		f.pullTimes = make(map[string]time.Time)
	}
	f.pullTimes[key] = t
	return nil
}

func (f *fakeDocStore) Close() error { return nil }

// fakeRefresher counts refresh calls.
type fakeRefresher struct {
	NoopRefresher
	alerts    int
	disasters int
}

func (f *fakeRefresher) RefreshAlerts(ctx context.Context) error {
	f.alerts++
	return nil
}

func (f *fakeRefresher) RefreshDisasters(ctx context.Context) error {
	f.disasters++
	return nil
}

func tokyoDoc() *Document {
	return &Document{
		AreaName:          "Tokyo",
		ParentCode:        "130000",
		Weather:           []int{100, 101, 200, 300, 400, 500, 413},
		Temperature:       []int{25, 22, -3, 30, 18, 20, 15},
		PrecipitationProb: []int{10, 20, 30, 40, 50, 60, 70},
		Warnings:          []string{"大雨注意報", "洪水注意報"},
		DisasterInfo:      []string{"土砂災害警戒情報"},
	}
}

func freshStore() *fakeDocStore {
	return &fakeDocStore{
		docs: map[string]*Document{"130000": tokyoDoc()},
		pullTimes: map[string]time.Time{
			KeyAlertPullTime:    time.Now(),
			KeyDisasterPullTime: time.Now(),
		},
	}
}

func queryServer(store DocumentStore, refresher Refresher) *Server {
	return New(config.Default().Query, store, refresher, zap.NewNop().Sugar())
}

func proxyAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4110}
}

func queryRequest(id uint16, area string, day uint8) *packet.Packet {
	code, err := packet.ParseAreaCode(area)
	if err != nil {
		panic(err)
	}
	return &packet.Packet{
		Version:         1,
		PacketID:        id,
		Type:            packet.TypeQueryRequest,
		WeatherFlag:     true,
		TemperatureFlag: true,
		PopFlag:         true,
		Day:             day,
		Timestamp:       time.Now().Unix(),
		AreaCode:        code,
	}
}

func TestQueryResponseFields(t *testing.T) {
	s := queryServer(freshStore(), nil)

	resp, dest, err := s.HandlePacket(context.Background(), queryRequest(77, "130000", 0), proxyAddr())
	require.NoError(t, err)
	assert.Equal(t, proxyAddr().String(), dest.String())

	assert.Equal(t, packet.TypeQueryResponse, resp.Type)
	assert.Equal(t, uint16(77), resp.PacketID)
	assert.Equal(t, "130000", resp.AreaCodeString())
	assert.Equal(t, uint16(100), resp.WeatherCode)
	assert.Equal(t, 25, resp.TemperatureCelsius())
	assert.Equal(t, uint8(125), resp.Temperature, "wire temperature carries the +100 bias")
	assert.Equal(t, uint8(10), resp.Pop)
	assert.Empty(t, resp.Alerts())
	assert.Empty(t, resp.Disasters())
}

func TestQueryDayIndexing(t *testing.T) {
	s := queryServer(freshStore(), nil)

	resp, _, err := s.HandlePacket(context.Background(), queryRequest(1, "130000", 2), proxyAddr())
	require.NoError(t, err)
	assert.Equal(t, uint8(2), resp.Day)
	assert.Equal(t, uint16(200), resp.WeatherCode)
	assert.Equal(t, -3, resp.TemperatureCelsius())
	assert.Equal(t, uint8(30), resp.Pop)
}

func TestQueryAlertsAndDisasters(t *testing.T) {
	s := queryServer(freshStore(), nil)

	req := queryRequest(2, "130000", 0)
	req.AlertFlag = true
	req.DisasterFlag = true

	resp, _, err := s.HandlePacket(context.Background(), req, proxyAddr())
	require.NoError(t, err)
	assert.Equal(t, []string{"大雨注意報", "洪水注意報"}, resp.Alerts())
	assert.Equal(t, []string{"土砂災害警戒情報"}, resp.Disasters())
	assert.True(t, resp.ExFlag)
}

func TestQueryValidation(t *testing.T) {
	s := queryServer(freshStore(), nil)
	var perr *server.Error

	wrongType := queryRequest(1, "130000", 0)
	wrongType.Type = packet.TypeLocationRequest
	_, _, err := s.HandlePacket(context.Background(), wrongType, proxyAddr())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeBadPacket), perr.Code)

	noArea := queryRequest(1, "130000", 0)
	noArea.AreaCode = 0
	_, _, err = s.HandlePacket(context.Background(), noArea, proxyAddr())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeMissingArea), perr.Code)

	noFlags := queryRequest(1, "130000", 0)
	noFlags.WeatherFlag = false
	noFlags.TemperatureFlag = false
	noFlags.PopFlag = false
	_, _, err = s.HandlePacket(context.Background(), noFlags, proxyAddr())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeBadPacket), perr.Code)
}

func TestQueryStoreFailureMapsTo520(t *testing.T) {
	var perr *server.Error

	s := queryServer(&fakeDocStore{getErr: errors.New("connection refused")}, nil)
	_, _, err := s.HandlePacket(context.Background(), queryRequest(1, "130000", 0), proxyAddr())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeQueryError), perr.Code)

	s = queryServer(&fakeDocStore{}, nil)
	_, _, err = s.HandlePacket(context.Background(), queryRequest(1, "999999", 0), proxyAddr())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(packet.ErrCodeQueryError), perr.Code)
}

func TestStalePullTimesTriggerRefresh(t *testing.T) {
	store := freshStore()
	store.pullTimes[KeyAlertPullTime] = time.Now().Add(-48 * time.Hour)
	store.pullTimes[KeyDisasterPullTime] = time.Now().Add(-48 * time.Hour)
	refresher := &fakeRefresher{}
	s := queryServer(store, refresher)

	req := queryRequest(1, "130000", 0)
	req.AlertFlag = true
	req.DisasterFlag = true
	_, _, err := s.HandlePacket(context.Background(), req, proxyAddr())
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.alerts)
	assert.Equal(t, 1, refresher.disasters)
}

func TestFreshPullTimesSkipRefresh(t *testing.T) {
	refresher := &fakeRefresher{}
	s := queryServer(freshStore(), refresher)

	req := queryRequest(1, "130000", 0)
	req.AlertFlag = true
	req.DisasterFlag = true
	_, _, err := s.HandlePacket(context.Background(), req, proxyAddr())
	require.NoError(t, err)
	assert.Zero(t, refresher.alerts)
	assert.Zero(t, refresher.disasters)
}

func TestRefreshNotTriggeredWithoutFlags(t *testing.T) {
	store := freshStore()
	store.pullTimes[KeyAlertPullTime] = time.Time{}
	store.pullTimes[KeyDisasterPullTime] = time.Time{}
	refresher := &fakeRefresher{}
	s := queryServer(store, refresher)

	_, _, err := s.HandlePacket(context.Background(), queryRequest(1, "130000", 0), proxyAddr())
	require.NoError(t, err)
	assert.Zero(t, refresher.alerts)
	assert.Zero(t, refresher.disasters)
}

func TestQueryPreservesSourceAndCoordinates(t *testing.T) {
	s := queryServer(freshStore(), nil)

	req := queryRequest(9, "130000", 1)
	req.SetSource(&net.UDPAddr{IP: net.ParseIP("192.0.2.9"), Port: 50001})
	require.NoError(t, req.SetCoordinates(35.6895, 139.6917))

	resp, _, err := s.HandlePacket(context.Background(), req, proxyAddr())
	require.NoError(t, err)

	src, ok := resp.Source()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.9:50001", src.String())
	lat, lon, ok := resp.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 35.6895, lat, 1e-6)
	assert.InDelta(t, 139.6917, lon, 1e-6)
}

func TestCronSpec(t *testing.T) {
	spec, err := cronSpec("03:00")
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", spec)

	spec, err = cronSpec(" 17:45 ")
	require.NoError(t, err)
	assert.Equal(t, "45 17 * * *", spec)

	for _, bad := range []string{"0300", "25:00", "12:61", ""} {
		_, err := cronSpec(bad)
		assert.Error(t, err, bad)
	}
}

// recordingRefresher reports a fixed skip list and controls per-area retries.
type recordingRefresher struct {
	NoopRefresher
	skip    []string
	retryOK map[string]bool
	retried []string
}

func (r *recordingRefresher) RefreshWeather(ctx context.Context) ([]string, error) {
	return r.skip, nil
}

func (r *recordingRefresher) RefreshArea(ctx context.Context, areaCode string) (bool, error) {
	r.retried = append(r.retried, areaCode)
	return r.retryOK[areaCode], nil
}

func TestSchedulerSkipListRetry(t *testing.T) {
	refresher := &recordingRefresher{
		skip:    []string{"011000", "130000"},
		retryOK: map[string]bool{"130000": true},
	}
	sched := NewScheduler(config.Default().Query, refresher, zap.NewNop().Sugar())

	sched.runWeatherRefresh(context.Background())
	assert.ElementsMatch(t, []string{"011000", "130000"}, sched.SkippedAreas())

	sched.retrySkipped(context.Background())
	assert.ElementsMatch(t, []string{"011000", "130000"}, refresher.retried)
	assert.Equal(t, []string{"011000"}, sched.SkippedAreas(), "only the failed area stays on the list")

	// A later successful retry clears the remainder.
	refresher.retryOK["011000"] = true
	sched.retrySkipped(context.Background())
	assert.Empty(t, sched.SkippedAreas())
}
