package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func hashBytes(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash is the hash of an event's canonical payload bytes. It is
// computable by the caller before append and recomputable forever after.
func ContentHash(payload json.RawMessage) (string, error) {
	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return "", err
	}
	canon, err := CanonicalJSON(decoded)
	if err != nil {
		return "", err
	}
	return hashBytes(canon), nil
}

// LeafHash binds an event's identity to its content for Merkle batching. The
// content hash is recomputed from the current payload bytes, never read from
// the stored column: a payload edited in place fails here even when the
// column was left (or patched) to look consistent.
func LeafHash(ev Event) (string, error) {
	h, err := ContentHash(ev.Payload)
	if err != nil {
		return "", &IntegrityError{EventID: ev.ID, Reason: "payload not canonicalizable: " + err.Error()}
	}
	if h != ev.ContentHash {
		return "", &IntegrityError{EventID: ev.ID, Reason: "content hash does not match payload"}
	}
	return hashBytes([]byte(ev.ID), []byte("|"), []byte(h)), nil
}
