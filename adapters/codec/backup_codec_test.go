package codec

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/internal/eth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() *core.BackupPayload {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &core.BackupPayload{
		ProductID: eth.ProductID("shop.example"),
		Session: &core.Session{
			Token:     "session-token",
			Wallet:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			ExpiresAt: at.Add(24 * time.Hour),
		},
		SdkSession: &core.SdkSession{Token: "sdk-token", ExpiresAt: at.Add(time.Hour)},
		PendingInteractions: []core.PendingInteraction{
			{ProductID: eth.ProductID("shop.example"), Interaction: []byte{0xde, 0xad}, Timestamp: at},
			{ProductID: eth.ProductID("shop.example"), Interaction: []byte{0xbe, 0xef}, Signature: []byte{0x01}, Timestamp: at},
		},
		ExpireAt: at.Add(7 * 24 * time.Hour),
	}
}

func TestBackupCodecRoundTrip(t *testing.T) {
	for name, key := range map[string][]byte{
		"plain":  nil,
		"sealed": bytes.Repeat([]byte{0x42}, 32),
	} {
		t.Run(name, func(t *testing.T) {
			c, err := NewBackupCodec(key)
			require.NoError(t, err)
			assert.Equal(t, key != nil, c.Sealed())

			payload := samplePayload()
			blob, err := c.Encode(payload)
			require.NoError(t, err)
			assert.NotContains(t, blob, "=")

			decoded, err := c.Decode(blob)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestBackupCodecRejectsTampering(t *testing.T) {
	c, err := NewBackupCodec(nil)
	require.NoError(t, err)

	blob, err := c.Encode(samplePayload())
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff

	_, err = c.Decode(base64.RawURLEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, core.ErrInvalidBackup)

	_, err = c.Decode("%%%not-base64")
	require.ErrorIs(t, err, core.ErrInvalidBackup)

	_, err = c.Decode(base64.RawURLEncoding.EncodeToString([]byte("not zstd")))
	require.ErrorIs(t, err, core.ErrInvalidBackup)
}

func TestBackupCodecRejectsHashMismatch(t *testing.T) {
	c, err := NewBackupCodec(nil)
	require.NoError(t, err)

	body, err := encMode.Marshal(samplePayload())
	require.NoError(t, err)
	env, err := encMode.Marshal(envelope{Body: body, ValidationHash: make([]byte, 32)})
	require.NoError(t, err)
	blob := base64.RawURLEncoding.EncodeToString(c.encoder.EncodeAll(env, nil))

	_, err = c.Decode(blob)
	require.ErrorIs(t, err, core.ErrInvalidBackup)
	assert.ErrorContains(t, err, errHashMismatch.Error())
}

func TestBackupCodecWrongKey(t *testing.T) {
	sealer, err := NewBackupCodec(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	opener, err := NewBackupCodec(bytes.Repeat([]byte{0x02}, 32))
	require.NoError(t, err)

	blob, err := sealer.Encode(samplePayload())
	require.NoError(t, err)

	_, err = opener.Decode(blob)
	require.ErrorIs(t, err, core.ErrInvalidBackup)

	_, err = NewBackupCodec([]byte("short"))
	require.Error(t, err)
}
