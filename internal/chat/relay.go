package chat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// relay validates an inbound envelope, stores any attachment, persists
// the message, and forwards it to every live connection of the
// recipient. A recipient with no live connection gets no real-time
// delivery; the persisted message stays discoverable through history.
//
// Persistence is awaited: if the blob store or the message store fails,
// nothing is forwarded and the sender receives an error frame.
func (h *Hub) relay(p *Peer, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.reject(p, "malformed message")
		return
	}
	if p.identity == nil {
		h.reject(p, "not authenticated")
		return
	}
	if env.Recipient == "" || (env.Text == "" && env.File == nil) {
		h.reject(p, "message needs a recipient and text or a file")
		return
	}

	var fileRef string
	if env.File != nil {
		data, err := decodeFilePayload(env.File.Data)
		if err != nil {
			h.reject(p, "unreadable file payload")
			return
		}
		if fileRef, err = h.blobs.Save(env.File.Name, data); err != nil {
			h.log.Error("attachment store failed", "name", env.File.Name, "error", err)
			h.reject(p, "message not delivered")
			return
		}
	}

	id, err := h.store.SaveMessage(p.identity.UserID, env.Recipient, env.Text, fileRef)
	if err != nil {
		h.log.Error("message persist failed",
			"sender", p.identity.UserID, "recipient", env.Recipient, "error", err)
		h.reject(p, "message not delivered")
		return
	}

	payload, err := json.Marshal(deliveryEnvelope{
		Text:      env.Text,
		File:      refOrNull(fileRef),
		Sender:    p.identity.UserID,
		Recipient: env.Recipient,
		ID:        id,
	})
	if err != nil {
		h.log.Error("marshal delivery", "error", err)
		return
	}

	for _, rp := range h.registry.ForUser(env.Recipient) {
		if !rp.enqueue(payload) {
			h.log.Warn("send queue full, dropping delivery", "recipient", env.Recipient)
		}
	}
}

// reject tells the sender why its frame went nowhere.
func (h *Hub) reject(p *Peer, reason string) {
	payload, err := json.Marshal(errorEnvelope{Error: reason})
	if err != nil {
		return
	}
	p.enqueue(payload)
}

// decodeFilePayload decodes the base64 segment after the first comma of
// a data-URI style payload.
func decodeFilePayload(data string) ([]byte, error) {
	_, b64, ok := strings.Cut(data, ",")
	if !ok {
		return nil, fmt.Errorf("payload is not a data URI")
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return decoded, nil
}

func refOrNull(ref string) *string {
	if ref == "" {
		return nil
	}
	return &ref
}
