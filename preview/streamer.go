package preview

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// StreamerConfig holds configuration for the RTP/JPEG streamer
type StreamerConfig struct {
	// Network
	DestHost  string
	DestPort  int
	LocalPort int // Optional local port binding
	MTU       int
	DSCP      int // Optional DSCP marking for QoS

	// RTP
	SSRC uint32 // random when zero
}

// StreamerStats holds streamer statistics
type StreamerStats struct {
	FramesSent     uint64 `json:"frames_sent"`
	FramesDropped  uint64 `json:"frames_dropped"`
	SendErrors     uint64 `json:"send_errors"`
	RTPPacketsSent uint64 `json:"rtp_packets_sent"`
	BytesSent      uint64 `json:"bytes_sent"`
	CurrentSeqNum  uint16 `json:"current_seq"`
}

// Streamer sends encoded preview frames as RTP/JPEG over UDP
type Streamer struct {
	config StreamerConfig
	logger *zap.Logger

	conn *net.UDPConn

	destMu   sync.RWMutex
	destAddr *net.UDPAddr

	packetizer *RTPPacketizer
	tsGen      *TimestampGenerator

	frameChan chan Frame
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	isRunning  atomic.Bool
	frameCount atomic.Uint64
	dropCount  atomic.Uint64
	sendErrors atomic.Uint64
}

// NewStreamer creates a streamer. Nothing is sent until Start.
func NewStreamer(config StreamerConfig, logger *zap.Logger) *Streamer {
	if config.MTU <= 0 {
		config.MTU = DefaultMTU
	}
	if config.SSRC == 0 {
		config.SSRC = uuid.New().ID()
	}
	return &Streamer{
		config:     config,
		logger:     logger.With(zap.String("component", "rtp_streamer")),
		packetizer: NewRTPPacketizer(config.SSRC, config.MTU),
		tsGen:      NewTimestampGenerator(),
		frameChan:  make(chan Frame, 10), // Small buffer to prevent blocking
	}
}

// Start opens the UDP socket and the sender goroutine
func (s *Streamer) Start(ctx context.Context) error {
	if s.isRunning.Load() {
		return fmt.Errorf("streamer already running")
	}

	destAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.DestHost, fmt.Sprint(s.config.DestPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve destination address: %w", err)
	}

	var localAddr *net.UDPAddr
	if s.config.LocalPort > 0 {
		localAddr = &net.UDPAddr{Port: s.config.LocalPort}
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("failed to create UDP socket: %w", err)
	}

	// Set socket buffer sizes for high throughput
	if err := conn.SetWriteBuffer(1024 * 1024); err != nil {
		s.logger.Warn("Failed to set UDP write buffer size", zap.Error(err))
	}
	if s.config.DSCP > 0 {
		// DSCP occupies the upper six bits of the TOS byte
		if err := ipv4.NewConn(conn).SetTOS(s.config.DSCP << 2); err != nil {
			s.logger.Warn("Failed to set DSCP marking", zap.Int("dscp", s.config.DSCP), zap.Error(err))
		}
	}

	s.conn = conn
	s.setDestination(destAddr)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning.Store(true)

	s.wg.Add(1)
	go s.frameSenderLoop()

	s.logger.Info("RTP/JPEG streamer started",
		zap.String("local_addr", conn.LocalAddr().String()),
		zap.String("dest_addr", destAddr.String()),
		zap.Int("mtu", s.config.MTU),
		zap.Uint32("ssrc", s.config.SSRC))
	return nil
}

// Stop stops the sender and closes the socket
func (s *Streamer) Stop() error {
	if !s.isRunning.Swap(false) {
		return nil
	}

	s.logger.Info("Stopping RTP/JPEG streamer")
	s.cancel()
	s.wg.Wait()

	err := s.conn.Close()

	stats := s.GetStats()
	s.logger.Info("RTP/JPEG streamer stopped",
		zap.Uint64("frames_sent", stats.FramesSent),
		zap.Uint64("frames_dropped", stats.FramesDropped),
		zap.Uint64("send_errors", stats.SendErrors))
	return err
}

// SendFrame queues f for sending without blocking
func (s *Streamer) SendFrame(f Frame) error {
	if !s.isRunning.Load() {
		return fmt.Errorf("streamer not running")
	}

	select {
	case s.frameChan <- f:
		return nil
	default:
		// Channel full - drop frame to avoid blocking the encoder
		s.dropCount.Add(1)
		return fmt.Errorf("frame channel full, dropping frame")
	}
}

// Consume is a Consumer that forwards encoded frames to the streamer
func (s *Streamer) Consume(f Frame) {
	_ = s.SendFrame(f)
}

func (s *Streamer) frameSenderLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.frameChan:
			if err := s.sendFrameRTP(f); err != nil {
				s.sendErrors.Add(1)
				s.logger.Error("Failed to send RTP frame",
					zap.Error(err),
					zap.Uint64("frame", f.Seq))
				continue
			}

			n := s.frameCount.Add(1)
			if n%100 == 0 {
				stats := s.GetStats()
				s.logger.Debug("Streaming progress",
					zap.Uint64("frames", stats.FramesSent),
					zap.Uint64("dropped", stats.FramesDropped),
					zap.Uint64("errors", stats.SendErrors),
					zap.Uint64("rtp_packets", stats.RTPPacketsSent))
			}
		}
	}
}

// sendFrameRTP packetizes and sends a JPEG frame via RTP
func (s *Streamer) sendFrameRTP(f Frame) error {
	packets, err := s.packetizer.PacketizeJPEG(f.JPEG, s.tsGen.At(f.Time))
	if err != nil {
		return fmt.Errorf("failed to packetize JPEG: %w", err)
	}

	dest := s.destination()
	for i, packet := range packets {
		if _, err := s.conn.WriteToUDP(packet, dest); err != nil {
			return fmt.Errorf("failed to send RTP packet %d/%d: %w", i+1, len(packets), err)
		}
	}
	return nil
}

// GetStats returns streaming statistics
func (s *Streamer) GetStats() StreamerStats {
	rtpStats := s.packetizer.GetStats()
	return StreamerStats{
		FramesSent:     s.frameCount.Load(),
		FramesDropped:  s.dropCount.Load(),
		SendErrors:     s.sendErrors.Load(),
		RTPPacketsSent: rtpStats.PacketsSent,
		BytesSent:      rtpStats.BytesSent,
		CurrentSeqNum:  rtpStats.CurrentSeq,
	}
}

// IsRunning returns whether the streamer is running
func (s *Streamer) IsRunning() bool {
	return s.isRunning.Load()
}

// UpdateDestination updates the destination address dynamically
func (s *Streamer) UpdateDestination(host string, port int) error {
	destAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return fmt.Errorf("failed to resolve new destination: %w", err)
	}
	s.setDestination(destAddr)
	s.logger.Info("Updated destination address", zap.String("new_dest", destAddr.String()))
	return nil
}

func (s *Streamer) setDestination(addr *net.UDPAddr) {
	s.destMu.Lock()
	s.destAddr = addr
	s.destMu.Unlock()
}

func (s *Streamer) destination() *net.UDPAddr {
	s.destMu.RLock()
	defer s.destMu.RUnlock()
	return s.destAddr
}

// GetDestination returns current destination address
func (s *Streamer) GetDestination() string {
	if addr := s.destination(); addr != nil {
		return addr.String()
	}
	return ""
}

// MonitorStats logs statistics every interval until the streamer stops
func (s *Streamer) MonitorStats(interval time.Duration) {
	if !s.isRunning.Load() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		lastStats := s.GetStats()
		lastTime := time.Now()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				currentStats := s.GetStats()
				now := time.Now()
				elapsed := now.Sub(lastTime).Seconds()

				// Calculate rates
				frameRate := float64(currentStats.FramesSent-lastStats.FramesSent) / elapsed
				bitrate := float64(currentStats.BytesSent-lastStats.BytesSent) * 8 / elapsed / 1000 // kbps

				s.logger.Info("RTP/JPEG streaming stats",
					zap.Float64("fps", frameRate),
					zap.Float64("bitrate_kbps", bitrate),
					zap.Uint64("total_frames", currentStats.FramesSent),
					zap.Uint64("dropped_frames", currentStats.FramesDropped),
					zap.Uint64("errors", currentStats.SendErrors),
					zap.Uint64("rtp_packets", currentStats.RTPPacketsSent))

				lastStats = currentStats
				lastTime = now
			}
		}
	}()
}
