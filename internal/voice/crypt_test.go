// ABOUTME: Tests for the secretbox cipher across all three nonce modes
// ABOUTME: Covers round trips, authentication failure, and short packets

package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []int {
	key := make([]int, 32)
	for i := range key {
		key[i] = i + 1
	}
	return key
}

func TestCipher_RoundTripAllModes(t *testing.T) {
	header := buildHeader(7, 960, 0xdeadbeef)
	payload := []byte("one opus frame")

	for mode := range supportedModes {
		t.Run(mode, func(t *testing.T) {
			c, err := newCipher(mode, testKey())
			require.NoError(t, err)

			packet, err := c.Seal(header, payload)
			require.NoError(t, err)
			assert.Equal(t, header, packet[:rtpHeaderLen], "header must be prefixed in clear")

			got, err := c.Open(packet[:rtpHeaderLen], packet[rtpHeaderLen:])
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestCipher_LiteTrailerIsFourBytes(t *testing.T) {
	c, err := newCipher(ModeLite, testKey())
	require.NoError(t, err)

	header := buildHeader(1, 0, 1)
	packet, err := c.Seal(header, []byte("x"))
	require.NoError(t, err)

	// header + ciphertext (1 byte + 16 byte overhead) + 4 byte counter
	assert.Len(t, packet, rtpHeaderLen+1+16+4)
}

func TestCipher_SuffixTrailerIsFullNonce(t *testing.T) {
	c, err := newCipher(ModeSuffix, testKey())
	require.NoError(t, err)

	header := buildHeader(1, 0, 1)
	packet, err := c.Seal(header, []byte("x"))
	require.NoError(t, err)
	assert.Len(t, packet, rtpHeaderLen+1+16+24)
}

func TestCipher_WrongKeyFailsAuthentication(t *testing.T) {
	sealer, err := newCipher(ModeNormal, testKey())
	require.NoError(t, err)

	other := testKey()
	other[0] = 99
	opener, err := newCipher(ModeNormal, other)
	require.NoError(t, err)

	header := buildHeader(2, 1920, 42)
	packet, err := sealer.Seal(header, []byte("secret"))
	require.NoError(t, err)

	_, err = opener.Open(packet[:rtpHeaderLen], packet[rtpHeaderLen:])
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_ShortBodies(t *testing.T) {
	for _, tc := range []struct {
		mode string
		body []byte
	}{
		{ModeSuffix, make([]byte, 23)},
		{ModeLite, make([]byte, 3)},
	} {
		c, err := newCipher(tc.mode, testKey())
		require.NoError(t, err)
		_, err = c.Open(buildHeader(0, 0, 0), tc.body)
		assert.ErrorIs(t, err, ErrShortPacket, tc.mode)
	}
}

func TestNewCipher_Validation(t *testing.T) {
	_, err := newCipher("aes256_gcm", testKey())
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = newCipher(ModeNormal, []int{1, 2, 3})
	assert.Error(t, err)
}

func TestSelectMode_ServerOrderWins(t *testing.T) {
	mode, err := selectMode([]string{ModeLite, ModeNormal, ModeSuffix})
	require.NoError(t, err)
	assert.Equal(t, ModeLite, mode)

	mode, err = selectMode([]string{ModeSuffix, ModeLite})
	require.NoError(t, err)
	assert.Equal(t, ModeSuffix, mode)
}

func TestSelectMode_SkipsUnimplemented(t *testing.T) {
	mode, err := selectMode([]string{"aead_aes256_gcm", ModeLite, ModeNormal})
	require.NoError(t, err)
	assert.Equal(t, ModeLite, mode)

	_, err = selectMode([]string{"aead_aes256_gcm"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}
