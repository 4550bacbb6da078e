package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-jose/go-jose/v4"
)

// JWEKidHeader carries the encryption key ID alongside the JOSE header
// for gateways that route on it.
const JWEKidHeader = "x-jwe-kid"

// ErrKeyIDUnknown is returned when an inbound envelope names a key ID
// the key set cannot resolve, even after one forced refresh.
var ErrKeyIDUnknown = errors.New("transport: envelope key id unknown")

// envelopeBody is the wire wrapper around an encrypted payload.
type envelopeBody struct {
	EncData string `json:"encData"`
}

// Envelope applies message-level encryption: request bodies are sealed
// as RSA-OAEP-256 / A256GCM compact JWEs, response bodies carrying an
// encData wrapper are opened. In production mode a missing key set
// fails the request; in development the payload passes through in the
// clear with a warning.
type Envelope struct {
	keys   *KeySet
	mode   Mode
	logger *slog.Logger
}

// NewEnvelope creates an envelope codec over the given key set.
func NewEnvelope(keys *KeySet, mode Mode, logger *slog.Logger) *Envelope {
	if logger == nil {
		logger = slog.Default()
	}
	return &Envelope{keys: keys, mode: mode, logger: logger}
}

// Seal encrypts payload for the current publisher key. It returns the
// wrapped body and the key ID used, or the payload unchanged (empty
// kid) when development mode passes through.
func (e *Envelope) Seal(ctx context.Context, payload []byte) ([]byte, string, error) {
	jwk, err := e.keys.EncryptionKey(ctx)
	if err != nil {
		if e.mode == ModeDevelopment {
			e.logger.Warn("encryption key unavailable, sending payload in the clear", "error", err)
			return payload, "", nil
		}
		return nil, "", fmt.Errorf("sealing envelope: %w", err)
	}

	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: jwk.Key, KeyID: jwk.KeyID},
		nil,
	)
	if err != nil {
		return nil, "", fmt.Errorf("creating encrypter: %w", err)
	}

	obj, err := enc.Encrypt(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encrypting payload: %w", err)
	}

	compact, err := obj.CompactSerialize()
	if err != nil {
		return nil, "", fmt.Errorf("serializing envelope: %w", err)
	}

	body, err := json.Marshal(envelopeBody{EncData: compact})
	if err != nil {
		return nil, "", fmt.Errorf("wrapping envelope: %w", err)
	}
	return body, jwk.KeyID, nil
}

// Open decrypts a response body. Bodies without an encData wrapper are
// returned unchanged. An unknown key ID triggers one forced key set
// refresh before failing.
func (e *Envelope) Open(ctx context.Context, body []byte) ([]byte, error) {
	var wrapper envelopeBody
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.EncData == "" {
		return body, nil
	}

	obj, err := jose.ParseEncrypted(wrapper.EncData,
		[]jose.KeyAlgorithm{jose.RSA_OAEP_256},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	kid := obj.Header.KeyID
	key, ok := e.keys.DecryptionKey(kid)
	if !ok {
		// The publisher may have rotated since the last fetch.
		if refreshErr := e.keys.Refresh(ctx); refreshErr != nil {
			return nil, fmt.Errorf("%w: %q (refresh failed: %v)", ErrKeyIDUnknown, kid, refreshErr)
		}
		key, ok = e.keys.DecryptionKey(kid)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrKeyIDUnknown, kid)
		}
	}

	plaintext, err := obj.Decrypt(key)
	if err != nil {
		return nil, fmt.Errorf("decrypting envelope: %w", err)
	}
	return plaintext, nil
}
