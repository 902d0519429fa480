package preview

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

const (
	// RTP constants
	RTPPayloadTypeJPEG = 26
	RTPHeaderSize      = 12
	JPEGHeaderSize     = 8
	QTableHeaderSize   = 4

	// RFC 2435 JPEG/RTP specific
	DefaultMTU   = 1400
	RTPClockRate = 90000 // Standard clock rate for video

	// dynamic quantization tables travel in the first packet of each frame
	qDynamic = 255
	// RFC 2435 carries dimensions in 8-pixel blocks in one byte
	maxDimension = 2040
)

// RTPPacketizer splits JPEG frames into RTP packets according to RFC 2435
type RTPPacketizer struct {
	ssrc           uint32
	mtu            int
	maxPayloadSize int

	sequenceNumber atomic.Uint32

	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64
	framesSent  atomic.Uint64
}

// PacketizerStats holds statistics about RTP packetization
type PacketizerStats struct {
	PacketsSent uint64
	BytesSent   uint64
	FramesSent  uint64
	CurrentSeq  uint16
}

// NewRTPPacketizer creates a packetizer for ssrc that keeps every packet
// within mtu bytes
func NewRTPPacketizer(ssrc uint32, mtu int) *RTPPacketizer {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	maxPayload := mtu - RTPHeaderSize - JPEGHeaderSize
	if maxPayload <= QTableHeaderSize+128 {
		mtu = DefaultMTU
		maxPayload = DefaultMTU - RTPHeaderSize - JPEGHeaderSize
	}
	return &RTPPacketizer{
		ssrc:           ssrc,
		mtu:            mtu,
		maxPayloadSize: maxPayload,
	}
}

// PacketizeJPEG splits a baseline JPEG into marshaled RTP packets. The
// marker bit is set on the last packet of the frame.
func (p *RTPPacketizer) PacketizeJPEG(jpegData []byte, timestamp uint32) ([][]byte, error) {
	if len(jpegData) == 0 {
		return nil, fmt.Errorf("empty JPEG data")
	}

	f, err := parseJPEG(jpegData)
	if err != nil {
		return nil, fmt.Errorf("failed to extract JPEG payload: %w", err)
	}
	if f.width > maxDimension || f.height > maxDimension {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrUnsupportedJPEG, f.width, f.height, maxDimension)
	}
	if f.width%8 != 0 || f.height%8 != 0 {
		return nil, fmt.Errorf("%w: %dx%d is not a multiple of 8", ErrUnsupportedJPEG, f.width, f.height)
	}

	var packets [][]byte
	offset := 0
	for first := true; first || offset < len(f.scan); first = false {
		jh := jpegHeader(offset, f)
		room := p.maxPayloadSize
		if first {
			jh = append(jh, 0, 0, 0, byte(len(f.qtables)))
			jh = append(jh, f.qtables...)
			room -= QTableHeaderSize + len(f.qtables)
		}

		n := min(room, len(f.scan)-offset)
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         offset+n >= len(f.scan),
				PayloadType:    RTPPayloadTypeJPEG,
				SequenceNumber: uint16(p.sequenceNumber.Add(1) - 1),
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: append(jh, f.scan[offset:offset+n]...),
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
		}
		packets = append(packets, raw)
		offset += n
	}

	p.packetsSent.Add(uint64(len(packets)))
	p.bytesSent.Add(uint64(len(jpegData)))
	p.framesSent.Add(1)
	return packets, nil
}

// jpegHeader builds the 8-byte RFC 2435 main header
func jpegHeader(offset int, f jpegFrame) []byte {
	return []byte{
		0, // type-specific
		byte(offset >> 16), byte(offset >> 8), byte(offset),
		f.typ,
		qDynamic,
		byte(f.width / 8),
		byte(f.height / 8),
	}
}

// GetStats returns packetizer statistics
func (p *RTPPacketizer) GetStats() PacketizerStats {
	return PacketizerStats{
		PacketsSent: p.packetsSent.Load(),
		BytesSent:   p.bytesSent.Load(),
		FramesSent:  p.framesSent.Load(),
		CurrentSeq:  uint16(p.sequenceNumber.Load()),
	}
}

// TimestampGenerator produces 90 kHz RTP timestamps from wall-clock time
type TimestampGenerator struct {
	startTime time.Time
}

// NewTimestampGenerator creates a generator starting at zero now
func NewTimestampGenerator() *TimestampGenerator {
	return &TimestampGenerator{startTime: time.Now()}
}

// Next returns the timestamp for a frame presented now
func (tg *TimestampGenerator) Next() uint32 {
	return tg.At(time.Now())
}

// At returns the timestamp for a frame presented at t
func (tg *TimestampGenerator) At(t time.Time) uint32 {
	return uint32(t.Sub(tg.startTime).Seconds() * RTPClockRate)
}
