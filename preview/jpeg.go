package preview

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupportedJPEG is returned for JPEGs that RFC 2435 cannot carry
var ErrUnsupportedJPEG = errors.New("unsupported JPEG for RTP")

// JPEG markers
const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOF0 = 0xC0
	markerDHT  = 0xC4
	markerDQT  = 0xDB
	markerDRI  = 0xDD
	markerSOS  = 0xDA
)

// jpegFrame is a baseline JPEG split into the parts RFC 2435 sends
type jpegFrame struct {
	width, height int
	typ           uint8  // 0 for 4:2:2, 1 for 4:2:0
	qtables       []byte // luma then chroma, 64 bytes each
	scan          []byte // entropy-coded data between SOS and EOI
}

// parseJPEG extracts the quantization tables and scan data from a baseline
// three-component JPEG using the standard Huffman tables, which is what
// image/jpeg produces for colour images.
func parseJPEG(data []byte) (jpegFrame, error) {
	var f jpegFrame
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return f, fmt.Errorf("%w: missing SOI marker", ErrUnsupportedJPEG)
	}

	tables := make(map[uint8][]byte, 2)
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return f, fmt.Errorf("%w: expected marker at offset %d", ErrUnsupportedJPEG, pos)
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		if marker == markerEOI {
			break
		}
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		if length < 2 || pos+2+length > len(data) {
			return f, fmt.Errorf("%w: truncated segment 0x%02x", ErrUnsupportedJPEG, marker)
		}
		seg := data[pos+4 : pos+2+length]

		switch marker {
		case markerDQT:
			for len(seg) > 0 {
				if seg[0]>>4 != 0 {
					return f, fmt.Errorf("%w: 16-bit quantization table", ErrUnsupportedJPEG)
				}
				if len(seg) < 65 {
					return f, fmt.Errorf("%w: short quantization table", ErrUnsupportedJPEG)
				}
				tables[seg[0]&0x0F] = seg[1:65]
				seg = seg[65:]
			}
		case markerSOF0:
			if len(seg) < 15 || seg[5] != 3 {
				return f, fmt.Errorf("%w: need three components", ErrUnsupportedJPEG)
			}
			f.height = int(binary.BigEndian.Uint16(seg[1:]))
			f.width = int(binary.BigEndian.Uint16(seg[3:]))
			switch seg[7] {
			case 0x21:
				f.typ = 0
			case 0x22:
				f.typ = 1
			default:
				return f, fmt.Errorf("%w: luma sampling 0x%02x", ErrUnsupportedJPEG, seg[7])
			}
		case markerDRI:
			return f, fmt.Errorf("%w: restart markers", ErrUnsupportedJPEG)
		case markerSOS:
			end := len(data)
			if end >= 2 && data[end-2] == 0xFF && data[end-1] == markerEOI {
				end -= 2
			}
			f.scan = data[pos+2+length : end]
			if f.width == 0 {
				return f, fmt.Errorf("%w: SOS before SOF0", ErrUnsupportedJPEG)
			}
			luma, chroma := tables[0], tables[1]
			if luma == nil || chroma == nil {
				return f, fmt.Errorf("%w: missing quantization tables", ErrUnsupportedJPEG)
			}
			f.qtables = append(append(make([]byte, 0, 128), luma...), chroma...)
			return f, nil
		default:
			if marker >= 0xC1 && marker <= 0xCF && marker != markerDHT && marker != 0xC8 && marker != 0xCC {
				return f, fmt.Errorf("%w: non-baseline frame 0x%02x", ErrUnsupportedJPEG, marker)
			}
		}
		pos += 2 + length
	}
	return f, fmt.Errorf("%w: no scan data", ErrUnsupportedJPEG)
}
