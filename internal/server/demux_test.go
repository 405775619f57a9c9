package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxproto/wip/internal/packet"
)

func demuxPair(t *testing.T) (*Demux, *net.UDPConn, *net.UDPAddr) {
	t.Helper()
	shared, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { shared.Close() })

	sender, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { sender.Close() })

	m := NewDemux(shared, 4096, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)

	return m, sender, shared.LocalAddr().(*net.UDPAddr)
}

func sendPacket(t *testing.T, conn *net.UDPConn, dest *net.UDPAddr, p *packet.Packet) {
	t.Helper()
	data, err := packet.Encode(p)
	require.NoError(t, err)
	_, err = conn.WriteToUDP(data, dest)
	require.NoError(t, err)
}

func TestDemuxRoutesById(t *testing.T) {
	m, sender, dest := demuxPair(t)

	done := make(chan *packet.Packet, 1)
	go func() {
		p, err := m.ReceiveWithID(context.Background(), 5, 2*time.Second)
		require.NoError(t, err)
		done <- p
	}()

	// Give the waiter time to register.
	time.Sleep(20 * time.Millisecond)
	sendPacket(t, sender, dest, &packet.Packet{Version: 1, PacketID: 5, Type: packet.TypeQueryResponse, WeatherCode: 100})

	select {
	case p := <-done:
		assert.Equal(t, uint16(5), p.PacketID)
		assert.Equal(t, uint16(100), p.WeatherCode)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never got its reply")
	}
}

func TestDemuxConcurrentWaiters(t *testing.T) {
	m, sender, dest := demuxPair(t)

	ids := []uint16{1, 2, 3, 4, 5, 6, 7, 8}
	results := make(map[uint16]uint16)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			p, err := m.ReceiveWithID(context.Background(), id, 3*time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			results[id] = p.WeatherCode
			mu.Unlock()
		}(id)
	}

	time.Sleep(50 * time.Millisecond)
	// Deliver replies in reverse order; each waiter must still see its own.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		sendPacket(t, sender, dest, &packet.Packet{
			Version:     1,
			PacketID:    id,
			Type:        packet.TypeQueryResponse,
			WeatherCode: uint16(1000 + id),
		})
	}

	wg.Wait()
	require.Len(t, results, len(ids))
	for _, id := range ids {
		assert.Equal(t, uint16(1000+id), results[id], "waiter %d", id)
	}
}

func TestDemuxBuffersReplyAheadOfWait(t *testing.T) {
	m, sender, dest := demuxPair(t)

	pending, err := m.Register(77)
	require.NoError(t, err)

	// The reply lands well before anyone blocks on it; the claimed slot
	// must hold it instead of dropping it.
	sendPacket(t, sender, dest, &packet.Packet{Version: 1, PacketID: 77, Type: packet.TypeQueryResponse, WeatherCode: 300})
	time.Sleep(100 * time.Millisecond)

	p, err := pending.Wait(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint16(77), p.PacketID)
	assert.Equal(t, uint16(300), p.WeatherCode)
}

func TestDemuxCancelReleasesSlot(t *testing.T) {
	m, _, _ := demuxPair(t)

	pending, err := m.Register(13)
	require.NoError(t, err)
	_, err = m.Register(13)
	assert.Error(t, err)

	pending.Cancel()
	pending, err = m.Register(13)
	require.NoError(t, err)
	pending.Cancel()
}

func TestDemuxTimeout(t *testing.T) {
	m, _, _ := demuxPair(t)
	_, err := m.ReceiveWithID(context.Background(), 99, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestDemuxDuplicateWaiterRejected(t *testing.T) {
	m, _, _ := demuxPair(t)

	go m.ReceiveWithID(context.Background(), 12, 500*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, err := m.ReceiveWithID(context.Background(), 12, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestDemuxIgnoresUnclaimedDatagrams(t *testing.T) {
	m, sender, dest := demuxPair(t)

	sendPacket(t, sender, dest, &packet.Packet{Version: 1, PacketID: 40, Type: packet.TypeQueryResponse})
	time.Sleep(50 * time.Millisecond)

	// A later waiter for a different id is unaffected.
	go func() {
		time.Sleep(20 * time.Millisecond)
		sendPacket(t, sender, dest, &packet.Packet{Version: 1, PacketID: 41, Type: packet.TypeQueryResponse})
	}()
	p, err := m.ReceiveWithID(context.Background(), 41, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint16(41), p.PacketID)
}
