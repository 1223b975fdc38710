package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// SendText sends a text message. target is a conversation id (a JID) or a
// bare phone number.
func (p *Provider) SendText(ctx context.Context, target, text string) error {
	client, jid, err := p.sendTarget(target)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// SendImage uploads the image at path and sends it.
func (p *Provider) SendImage(ctx context.Context, target, path string) error {
	client, jid, err := p.sendTarget(target)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return fmt.Errorf("%s is not an image (%s)", path, mime)
	}

	uploaded, err := client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("uploading image: %w", err)
	}
	msg := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(mime),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
		},
	}
	if _, err := client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("sending image: %w", err)
	}
	return nil
}

func (p *Provider) sendTarget(target string) (*whatsmeow.Client, types.JID, error) {
	if err := p.requireConnected(); err != nil {
		return nil, types.JID{}, err
	}
	jid, err := parseJID(target)
	if err != nil {
		return nil, types.JID{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	return p.currentClient(), jid, nil
}

// parseJID accepts a full JID ("5511999999999@s.whatsapp.net",
// "123-456@g.us") or a phone number in any punctuation.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 7 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
