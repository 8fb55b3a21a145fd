// ABOUTME: RTP framing for voice packets: fixed 12-byte header build/parse.
// ABOUTME: Also strips the RFC 3550 header extension from decoded payloads.

package voice

import "encoding/binary"

const (
	rtpVersionFlags = 0x80 // version 2, no padding, no extension on send
	rtpPayloadType  = 0x78 // dynamic payload type used for opus
	rtpHeaderLen    = 12
)

// buildHeader writes the outbound RTP header for one opus frame.
func buildHeader(seq uint16, timestamp, ssrc uint32) []byte {
	h := make([]byte, rtpHeaderLen)
	h[0] = rtpVersionFlags
	h[1] = rtpPayloadType
	binary.BigEndian.PutUint16(h[2:4], seq)
	binary.BigEndian.PutUint32(h[4:8], timestamp)
	binary.BigEndian.PutUint32(h[8:12], ssrc)
	return h
}

// Packet is a parsed inbound voice packet. Opus holds the decrypted,
// extension-stripped payload.
type Packet struct {
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	Opus      []byte
}

// parsePacket splits a datagram into header and body, decrypts the body,
// and removes any header extension the sender included. The CSRC list
// (count in the low nibble of byte 0) extends the cleartext header, so
// the encrypted region starts at 12+4n; the nonce stays the fixed
// 12 bytes.
func parsePacket(c *cipher, data []byte) (*Packet, error) {
	if len(data) < rtpHeaderLen {
		return nil, ErrShortPacket
	}
	header := data[:rtpHeaderLen]
	bodyStart := rtpHeaderLen + 4*int(header[0]&0x0f)
	if len(data) < bodyStart {
		return nil, ErrShortPacket
	}
	opus, err := c.Open(header, data[bodyStart:])
	if err != nil {
		return nil, err
	}
	if header[0]&0x10 != 0 {
		opus, err = stripExtension(opus)
		if err != nil {
			return nil, err
		}
	}
	return &Packet{
		Sequence:  binary.BigEndian.Uint16(header[2:4]),
		Timestamp: binary.BigEndian.Uint32(header[4:8]),
		SSRC:      binary.BigEndian.Uint32(header[8:12]),
		Opus:      opus,
	}, nil
}

// stripExtension drops the one-header extension leading the decrypted
// payload: a 16-bit profile, a 16-bit word count, then that many 32-bit
// words.
func stripExtension(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, ErrShortPacket
	}
	words := int(binary.BigEndian.Uint16(payload[2:4]))
	offset := 4 + words*4
	if len(payload) < offset {
		return nil, ErrShortPacket
	}
	return payload[offset:], nil
}
