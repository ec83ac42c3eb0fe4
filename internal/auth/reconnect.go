package auth

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// nodeKeyLen is the length in bytes of a node's randomly generated secret
// key, re-rolled on every sign-in (spec §4.7).
const nodeKeyLen = 16

// ReconnectTokenRawLen is the raw byte length of a reconnection token:
// 16-byte nodeKey ∥ 16-byte binary nodeUUID ∥ 16-byte binary userUUID. Two
// conflicting wire lengths are documented elsewhere (20 and 28 bytes) for a
// token that apparently mixed text-form and binary-form UUIDs; this
// implementation always emits and expects the 48-byte all-binary form, so
// the wire reader that consumes the `C` reconnect tag's fixed-width payload
// and the encoder that produced it agree by construction instead of by a
// magic constant.
const ReconnectTokenRawLen = nodeKeyLen + 16 + 16

const reconnectTokenLen = ReconnectTokenRawLen

// encodeReconnectToken builds the base64 reconnection token returned after a
// successful sign-in or sign-up.
func encodeReconnectToken(nodeKey []byte, nodeID, userID uuid.UUID) (string, error) {
	if len(nodeKey) != nodeKeyLen {
		return "", fmt.Errorf("auth: node key must be %d bytes, got %d", nodeKeyLen, len(nodeKey))
	}
	raw := make([]byte, 0, reconnectTokenLen)
	raw = append(raw, nodeKey...)
	raw = append(raw, nodeID[:]...)
	raw = append(raw, userID[:]...)
	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeReconnectToken splits a reconnection token back into its three
// fields. Returns ErrAuthenticationFailed on any malformed input.
func decodeReconnectToken(token string) (nodeKey []byte, nodeID, userID uuid.UUID, err error) {
	raw, decErr := base64.StdEncoding.DecodeString(token)
	if decErr != nil {
		return nil, uuid.UUID{}, uuid.UUID{}, ErrAuthenticationFailed
	}
	return DecodeReconnectTokenRaw(raw)
}

// DecodeReconnectTokenRaw splits the raw (already-decoded) bytes of a
// reconnection token, as sent directly on the wire by the `C` reconnect tag
// (spec §6.1), back into its three fields.
func DecodeReconnectTokenRaw(raw []byte) (nodeKey []byte, nodeID, userID uuid.UUID, err error) {
	if len(raw) != reconnectTokenLen {
		return nil, uuid.UUID{}, uuid.UUID{}, ErrAuthenticationFailed
	}

	nodeKey = raw[:nodeKeyLen]
	nodeID, err = uuid.FromBytes(raw[nodeKeyLen : nodeKeyLen+16])
	if err != nil {
		return nil, uuid.UUID{}, uuid.UUID{}, ErrAuthenticationFailed
	}
	userID, err = uuid.FromBytes(raw[nodeKeyLen+16:])
	if err != nil {
		return nil, uuid.UUID{}, uuid.UUID{}, ErrAuthenticationFailed
	}
	return nodeKey, nodeID, userID, nil
}
