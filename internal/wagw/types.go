package wagw

// Message is one inbound chat event from the gateway.
type Message struct {
	Chat       string `json:"chat"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	IsGroup    bool   `json:"isGroup,omitempty"`
}

// ReplyRequest is the outbound frame. Mentions carry the user IDs the text
// tags so the gateway can render @-mentions.
type ReplyRequest struct {
	Type     string   `json:"type"`
	Chat     string   `json:"chat"`
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
}

type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)

type MessageCallback func(message *Message)

type StateCallback func(state WebSocketState)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string
