package codec

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/frak-labs/framesession/core"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
)

// maxDecodedSize bounds zstd output so a hostile parent cannot inflate a bomb.
const maxDecodedSize = 1 << 20

// sealContext is bound as additional data to every sealed backup.
var sealContext = []byte("framesession/backup/v1")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	// Addresses and hashes travel as their hex text form
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope pairs the encoded payload with its keccak256 digest.
type envelope struct {
	Body           []byte `cbor:"body"`
	ValidationHash []byte `cbor:"validationHash"`
}

// BackupCodec encodes backups as base64url(seal?(zstd(cbor(envelope)))).
// Without a key the blob is integrity checked but readable by the parent page.
type BackupCodec struct {
	aead    cipher.AEAD
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBackupCodec creates a codec. key may be nil, otherwise it must be 32 bytes.
func NewBackupCodec(key []byte) (*BackupCodec, error) {
	c := &BackupCodec{}

	if key != nil {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup cipher: %w", err)
		}
		c.aead = aead
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c.encoder = encoder
	c.decoder = decoder

	return c, nil
}

// Sealed reports whether backups are encrypted.
func (c *BackupCodec) Sealed() bool {
	return c.aead != nil
}

// Encode serializes a payload into the string handed to the parent
func (c *BackupCodec) Encode(payload *core.BackupPayload) (string, error) {
	body, err := encMode.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup: %w", err)
	}

	env, err := encMode.Marshal(envelope{Body: body, ValidationHash: crypto.Keccak256(body)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup envelope: %w", err)
	}

	out := c.encoder.EncodeAll(env, nil)

	if c.aead != nil {
		nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(out)+c.aead.Overhead())
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("failed to generate nonce: %w", err)
		}
		out = c.aead.Seal(nonce, nonce, out, sealContext)
	}

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode reverses Encode. Every failure wraps core.ErrInvalidBackup.
func (c *BackupCodec) Decode(backup string) (*core.BackupPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(backup)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", core.ErrInvalidBackup, err)
	}

	if c.aead != nil {
		if len(raw) < c.aead.NonceSize() {
			return nil, fmt.Errorf("%w: sealed backup too short", core.ErrInvalidBackup)
		}
		nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
		raw, err = c.aead.Open(nil, nonce, sealed, sealContext)
		if err != nil {
			return nil, fmt.Errorf("%w: open: %v", core.ErrInvalidBackup, err)
		}
	}

	decompressed, err := c.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", core.ErrInvalidBackup, err)
	}

	var env envelope
	if err := decMode.Unmarshal(decompressed, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", core.ErrInvalidBackup, err)
	}
	if !bytes.Equal(crypto.Keccak256(env.Body), env.ValidationHash) {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBackup, errHashMismatch)
	}

	var payload core.BackupPayload
	if err := decMode.Unmarshal(env.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", core.ErrInvalidBackup, err)
	}

	return &payload, nil
}

var errHashMismatch = errors.New("validation hash mismatch")
