package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
)

// QR channel event names emitted by whatsmeow's GetQRChannel.
const (
	qrEventCode    = "code"
	qrEventSuccess = "success"
	qrEventTimeout = "timeout"
)

// translate maps a whatsmeow event onto a connector event. ok is false for
// events the gateway does not act on.
func translate(evt any) (connectors.Event, bool) {
	switch v := evt.(type) {
	case *events.Message:
		msg := convertMessage(v)
		if msg == nil {
			return connectors.Event{}, false
		}
		return connectors.Event{Kind: connectors.EventMessage, Message: msg}, true
	case *events.PairSuccess:
		return connectors.Event{Kind: connectors.EventAuthenticated}, true
	case *events.Connected:
		return connectors.Event{Kind: connectors.EventReady}, true
	case *events.Disconnected:
		return connectors.Event{Kind: connectors.EventDisconnected, Reason: "connection closed"}, true
	case *events.StreamReplaced:
		return connectors.Event{Kind: connectors.EventDisconnected, Reason: "stream replaced by another client"}, true
	case *events.LoggedOut:
		return connectors.Event{Kind: connectors.EventDisconnected, Reason: fmt.Sprintf("logged out: %v", v.Reason)}, true
	case *events.ConnectFailure:
		return connectors.Event{Kind: connectors.EventInitFailed, Reason: fmt.Sprintf("connect failure: %v", v.Reason)}, true
	case *events.ClientOutdated:
		return connectors.Event{Kind: connectors.EventInitFailed, Reason: "client outdated"}, true
	case *events.TemporaryBan:
		return connectors.Event{Kind: connectors.EventInitFailed, Reason: fmt.Sprintf("temporary ban: %v", v)}, true
	default:
		return connectors.Event{}, false
	}
}

// translateQR maps a link channel item. Unknown error items count as init failures.
func translateQR(event, code string) (connectors.Event, bool) {
	switch event {
	case qrEventCode:
		return connectors.Event{Kind: connectors.EventLinkChallenge, Code: code}, true
	case qrEventSuccess:
		// PairSuccess reports the same transition
		return connectors.Event{}, false
	case qrEventTimeout:
		return connectors.Event{Kind: connectors.EventInitFailed, Reason: "link challenge expired"}, true
	default:
		return connectors.Event{Kind: connectors.EventInitFailed, Reason: "link failed: " + event}, true
	}
}

func convertMessage(v *events.Message) *connectors.Message {
	if v == nil || v.Message == nil {
		return nil
	}
	info := v.Info
	msg := &connectors.Message{
		ID:        string(info.ID),
		ChatID:    info.Chat.String(),
		SenderID:  info.Sender.ToNonAD().String(),
		PushName:  info.PushName,
		Timestamp: info.Timestamp,
		FromMe:    info.IsFromMe,
		IsGroup:   info.IsGroup,
		IsStatus:  info.Chat.String() == types.StatusBroadcastJID.String(),
	}

	wa := v.Message
	switch {
	case wa.GetConversation() != "":
		msg.Body = wa.GetConversation()
	case wa.GetExtendedTextMessage().GetText() != "":
		msg.Body = wa.GetExtendedTextMessage().GetText()
	}

	if audio := wa.GetAudioMessage(); audio != nil {
		msg.Voice = audio.GetPTT()
		msg.MediaMimeType = audio.GetMimetype()
		msg.MediaSize = audio.GetFileLength()
		msg.Media = audio
	}
	return msg
}

// parseChatID accepts full JIDs, the legacy "@c.us" suffix and bare phone numbers.
func parseChatID(chatID string) (types.JID, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return types.JID{}, fmt.Errorf("empty chat id")
	}
	if user, ok := strings.CutSuffix(chatID, "@c.us"); ok {
		chatID = user + "@" + types.DefaultUserServer
	}
	if !strings.Contains(chatID, "@") {
		return types.NewJID(strings.TrimPrefix(chatID, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return jid, nil
}
