package whatsapp

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/haasonsaas/relay/internal/channels"
	"github.com/haasonsaas/relay/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textEvent(sender, chat types.JID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: sender, Chat: chat},
			ID:            "MSG1",
			PushName:      "Alice",
			Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, "hi"},
		{"extended text", &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quoted reply")},
		}, "quoted reply"},
		{"image caption", &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")},
		}, "look"},
		{"no text body", &waE2E.Message{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractText(&events.Message{Message: tt.msg})
			if got != tt.want {
				t.Errorf("extractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleMessage(t *testing.T) {
	sender := types.NewJID("15551234567", types.DefaultUserServer)
	chat := types.NewJID("15551234567", types.DefaultUserServer)

	newAdapter := func(allow []string) (*Adapter, *[]*models.InboundMessage) {
		var received []*models.InboundMessage
		adapter := &Adapter{
			allow:  channels.Allowlist(allow),
			logger: discardLogger(),
			cfg: Config{
				Publish: func(msg *models.InboundMessage) { received = append(received, msg) },
			},
		}
		return adapter, &received
	}

	t.Run("allowed by phone number", func(t *testing.T) {
		adapter, received := newAdapter([]string{"15551234567"})
		adapter.handleMessage(textEvent(sender, chat, "hello"))
		if len(*received) != 1 {
			t.Fatalf("received %d messages", len(*received))
		}
		msg := (*received)[0]
		if msg.Channel != models.ChannelWhatsApp || msg.Content != "hello" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if msg.ChatID != chat.String() {
			t.Errorf("chat_id = %q", msg.ChatID)
		}
	})

	t.Run("denied when not listed", func(t *testing.T) {
		adapter, received := newAdapter([]string{"19990000000"})
		adapter.handleMessage(textEvent(sender, chat, "hello"))
		if len(*received) != 0 {
			t.Fatal("allowlist did not deny")
		}
	})

	t.Run("own messages ignored", func(t *testing.T) {
		adapter, received := newAdapter([]string{"*"})
		evt := textEvent(sender, chat, "echo")
		evt.Info.IsFromMe = true
		adapter.handleMessage(evt)
		if len(*received) != 0 {
			t.Fatal("processed own message")
		}
	})

	t.Run("empty body ignored", func(t *testing.T) {
		adapter, received := newAdapter([]string{"*"})
		evt := textEvent(sender, chat, "hi")
		evt.Message = &waE2E.Message{}
		adapter.handleMessage(evt)
		if len(*received) != 0 {
			t.Fatal("processed message without text")
		}
	})
}
