// ABOUTME: UDP transport for voice media: IP discovery, sequenced sends,
// ABOUTME: and decrypted receives over a single connected socket.

package voice

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
)

const (
	discoveryLen    = 70
	samplesPerFrame = 960 // 20ms of 48kHz audio
)

// Transport owns the voice UDP socket. Sequence and timestamp advance on
// every Send and wrap naturally at their type bounds.
type Transport struct {
	conn   *net.UDPConn
	ssrc   uint32
	cipher *cipher

	seqMu     sync.Mutex
	sequence  uint16
	timestamp uint32

	closeOnce sync.Once
}

func dialTransport(ip string, port int, ssrc uint32) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &Transport{conn: conn, ssrc: ssrc}, nil
}

// Discover performs IP discovery: a 70-byte probe (uint16 type 0x1,
// uint16 length, then our SSRC), answered with the same layout holding
// our external address and port.
func (t *Transport) Discover() (string, uint16, error) {
	probe := make([]byte, discoveryLen)
	binary.BigEndian.PutUint16(probe[0:2], 0x1)
	binary.BigEndian.PutUint16(probe[2:4], discoveryLen)
	binary.BigEndian.PutUint32(probe[4:8], t.ssrc)
	if _, err := t.conn.Write(probe); err != nil {
		return "", 0, err
	}
	resp := make([]byte, discoveryLen)
	if _, err := t.conn.Read(resp); err != nil {
		return "", 0, err
	}
	ip := strings.TrimRight(string(resp[4:68]), "\x00")
	port := binary.BigEndian.Uint16(resp[68:70])
	return ip, port, nil
}

func (t *Transport) setCipher(c *cipher) {
	t.cipher = c
}

// Send encrypts and transmits one opus frame, advancing the RTP counters.
func (t *Transport) Send(opus []byte) error {
	t.seqMu.Lock()
	seq := t.sequence
	ts := t.timestamp
	t.sequence++
	t.timestamp += samplesPerFrame
	t.seqMu.Unlock()

	packet, err := t.cipher.Seal(buildHeader(seq, ts, t.ssrc), opus)
	if err != nil {
		return err
	}
	_, err = t.conn.Write(packet)
	return err
}

// Receive blocks for the next datagram and returns it parsed and decrypted.
func (t *Transport) Receive() (*Packet, error) {
	buf := make([]byte, 1500)
	n, err := t.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return parsePacket(t.cipher, buf[:n])
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
