package preview

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap/zaptest"
)

func listenLocal(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestStreamerSendFrame tests that frames arrive as RTP/JPEG packets
func TestStreamerSendFrame(t *testing.T) {
	receiver := listenLocal(t)
	port := receiver.LocalAddr().(*net.UDPAddr).Port

	s := NewStreamer(StreamerConfig{DestHost: "127.0.0.1", DestPort: port, SSRC: 0xAABBCCDD}, zaptest.NewLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	data := createTestJPEG(t, 64, 48, true)
	s.Consume(Frame{JPEG: data, Width: 64, Height: 48, Seq: 1, Time: time.Now()})

	_ = receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	for {
		n, _, err := receiver.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("no RTP packet received: %v", err)
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("received packet does not unmarshal: %v", err)
		}
		if pkt.SSRC != 0xAABBCCDD || pkt.PayloadType != RTPPayloadTypeJPEG {
			t.Fatalf("unexpected packet ssrc %x pt %d", pkt.SSRC, pkt.PayloadType)
		}
		if pkt.Marker {
			break
		}
	}

	deadline := time.Now().Add(time.Second)
	for s.GetStats().FramesSent == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.GetStats().FramesSent != 1 {
		t.Errorf("FramesSent = %d, want 1", s.GetStats().FramesSent)
	}
}

// TestStreamerRejectsBadFrames tests that packetization errors are counted
func TestStreamerRejectsBadFrames(t *testing.T) {
	receiver := listenLocal(t)
	port := receiver.LocalAddr().(*net.UDPAddr).Port

	s := NewStreamer(StreamerConfig{DestHost: "127.0.0.1", DestPort: port}, zaptest.NewLogger(t))
	if s.config.SSRC == 0 {
		t.Error("SSRC should be randomized when unset")
	}
	if err := s.SendFrame(Frame{}); err == nil {
		t.Error("SendFrame before Start should fail")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := s.SendFrame(Frame{JPEG: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("SendFrame failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for s.GetStats().SendErrors == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.GetStats().SendErrors != 1 {
		t.Errorf("SendErrors = %d, want 1", s.GetStats().SendErrors)
	}
}

// TestStreamerUpdateDestination tests dynamic destination changes
func TestStreamerUpdateDestination(t *testing.T) {
	s := NewStreamer(StreamerConfig{DestHost: "127.0.0.1", DestPort: 5000}, zaptest.NewLogger(t))
	if err := s.UpdateDestination("127.0.0.1", 6000); err != nil {
		t.Fatalf("UpdateDestination failed: %v", err)
	}
	if got := s.GetDestination(); got != "127.0.0.1:6000" {
		t.Errorf("destination = %s, want 127.0.0.1:6000", got)
	}
	if err := s.UpdateDestination("127.0.0.1", 70000); err == nil {
		t.Error("expected error for invalid port")
	}
}

// TestStreamerStopIdempotent tests stopping twice and stopping unstarted
func TestStreamerStopIdempotent(t *testing.T) {
	s := NewStreamer(StreamerConfig{DestHost: "127.0.0.1", DestPort: 5004}, zaptest.NewLogger(t))
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on unstarted streamer: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.MonitorStats(10 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("streamer still running")
	}
}
