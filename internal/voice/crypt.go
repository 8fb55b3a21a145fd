// ABOUTME: Authenticated encryption for voice packets using NaCl secretbox.
// ABOUTME: Supports the normal, suffix, and lite nonce placement modes.

package voice

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"golang.org/x/crypto/nacl/secretbox"
)

// Encryption modes negotiated during SELECT_PROTOCOL, in preference order.
const (
	ModeNormal = "xsalsa20_poly1305"
	ModeSuffix = "xsalsa20_poly1305_suffix"
	ModeLite   = "xsalsa20_poly1305_lite"
)

var supportedModes = map[string]bool{
	ModeNormal: true,
	ModeSuffix: true,
	ModeLite:   true,
}

var (
	ErrUnknownMode = errors.New("voice: unsupported encryption mode")
	ErrDecrypt     = errors.New("voice: packet failed authentication")
	ErrShortPacket = errors.New("voice: packet too short")
)

// selectMode picks the first server-offered mode we implement. The
// server's ordering wins; ours only gates membership.
func selectMode(offered []string) (string, error) {
	for _, mode := range offered {
		if supportedModes[mode] {
			return mode, nil
		}
	}
	return "", ErrUnknownMode
}

// cipher seals and opens voice payloads. The nonce source depends on the
// negotiated mode:
//
//	normal  — the 12-byte RTP header, zero-padded to 24 bytes
//	suffix  — 24 random bytes appended to the ciphertext
//	lite    — an incrementing uint32, zero-padded; 4-byte trailer
type cipher struct {
	mode    string
	key     [32]byte
	counter atomic.Uint32
}

func newCipher(mode string, key []int) (*cipher, error) {
	switch mode {
	case ModeNormal, ModeSuffix, ModeLite:
	default:
		return nil, ErrUnknownMode
	}
	c := &cipher{mode: mode}
	if len(key) != len(c.key) {
		return nil, errors.New("voice: secret key must be 32 bytes")
	}
	for i, b := range key {
		c.key[i] = byte(b)
	}
	return c, nil
}

// Seal encrypts payload and returns the full wire packet: header, then
// ciphertext, then any mode-specific trailer.
func (c *cipher) Seal(header, payload []byte) ([]byte, error) {
	var nonce [24]byte
	switch c.mode {
	case ModeNormal:
		copy(nonce[:], header)
		return secretbox.Seal(header, payload, &nonce, &c.key), nil
	case ModeSuffix:
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, err
		}
		out := secretbox.Seal(header, payload, &nonce, &c.key)
		return append(out, nonce[:]...), nil
	case ModeLite:
		n := c.counter.Add(1)
		binary.BigEndian.PutUint32(nonce[:4], n)
		out := secretbox.Seal(header, payload, &nonce, &c.key)
		return append(out, nonce[:4]...), nil
	}
	return nil, ErrUnknownMode
}

// Open decrypts the body of a received packet. header is the 12-byte RTP
// header and body everything after it, trailer included.
func (c *cipher) Open(header, body []byte) ([]byte, error) {
	var nonce [24]byte
	switch c.mode {
	case ModeNormal:
		copy(nonce[:], header)
	case ModeSuffix:
		if len(body) < 24 {
			return nil, ErrShortPacket
		}
		copy(nonce[:], body[len(body)-24:])
		body = body[:len(body)-24]
	case ModeLite:
		if len(body) < 4 {
			return nil, ErrShortPacket
		}
		copy(nonce[:4], body[len(body)-4:])
		body = body[:len(body)-4]
	default:
		return nil, ErrUnknownMode
	}
	out, ok := secretbox.Open(nil, body, &nonce, &c.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}
