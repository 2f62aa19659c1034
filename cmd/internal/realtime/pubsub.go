package realtime

import (
	"bytes"
	"encoding/json"
)

// Web PubSub JSON subprotocol framing. Application payloads travel in the
// "data" field of group messages; everything else here is transport control.
const (
	pubsubSubprotocol = "json.webpubsub.azure.v1"

	frameJoinGroup   = "joinGroup"
	frameSendToGroup = "sendToGroup"

	frameMessage = "message"
	frameSystem  = "system"
	frameAck     = "ack"

	fromGroup = "group"

	dataTypeJSON = "json"
	dataTypeText = "text"
)

type joinGroupFrame struct {
	Type  string `json:"type"`
	Group string `json:"group"`
	AckID uint64 `json:"ackId,omitempty"`
}

type sendToGroupFrame struct {
	Type     string          `json:"type"`
	Group    string          `json:"group"`
	DataType string          `json:"dataType"`
	Data     json.RawMessage `json:"data"`
	NoEcho   bool            `json:"noEcho"`
}

type inboundFrame struct {
	Type     string          `json:"type"`
	From     string          `json:"from,omitempty"`
	Group    string          `json:"group,omitempty"`
	DataType string          `json:"dataType,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	// system frames
	Event        string `json:"event,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Message      string `json:"message,omitempty"`

	// ack frames
	AckID   uint64 `json:"ackId,omitempty"`
	Success *bool  `json:"success,omitempty"`
}

// groupPayload extracts the application payload of a group message for group.
// Frames for other groups, server-originated messages, and binary data are ignored.
func groupPayload(f inboundFrame, group string) ([]byte, bool) {
	if f.Type != frameMessage || f.From != fromGroup || f.Group != group {
		return nil, false
	}
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 {
		return nil, false
	}

	switch f.DataType {
	case dataTypeJSON:
		return data, true
	case dataTypeText:
		// Text payloads carry the JSON document as a string.
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, false
		}
		return []byte(s), true
	default:
		return nil, false
	}
}
