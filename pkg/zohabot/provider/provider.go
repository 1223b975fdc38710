// Package provider defines the ConversationProvider interface through which
// zohabot reads and writes messages on the underlying messaging client.
// Each client (WhatsApp via whatsmeow, WhatsApp Web via a browser, the local
// console) implements ConversationProvider so the pipeline stays the same.
package provider

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all providers.
var (
	// ErrNotConnected is returned by operations that need a linked session.
	ErrNotConnected = errors.New("provider not connected")

	// ErrUnsupported is returned when a provider cannot perform an operation
	// (e.g. pairing on the console provider).
	ErrUnsupported = errors.New("operation not supported by provider")

	// ErrNoMessage is returned by LatestMessage when a conversation has no
	// message that can be observed.
	ErrNoMessage = errors.New("conversation has no observable message")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("provider closed")
)

// Conversation is an addressable chat thread.
type Conversation struct {
	// ID is a stable identifier within one session generation.
	ID string `json:"id"`

	// Name is the display name shown by the messaging client.
	Name string `json:"name"`

	// IsGroup is set when the provider knows the conversation is a group.
	// Providers that only see display names leave it false.
	IsGroup bool `json:"is_group,omitempty"`
}

// Snapshot is the latest observable message of a conversation.
type Snapshot struct {
	// Marker is an opaque token identifying the latest message. Two snapshots
	// of the same message carry the same marker.
	Marker string `json:"marker"`

	// Text is the message body (caption for media), empty when absent.
	Text string `json:"text,omitempty"`

	// HasMedia reports whether the message carries an image, video or
	// other attachment.
	HasMedia bool `json:"has_media"`

	// Outgoing reports whether the message was sent by this account.
	Outgoing bool `json:"outgoing,omitempty"`

	// MediaDigest is a provider-supplied content fingerprint for media
	// (file hash, media URL...). Empty when unknown.
	MediaDigest string `json:"media_digest,omitempty"`

	// Timestamp is when the message was sent, zero when unknown.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// QR is the provider half of a pairing challenge.
type QR struct {
	// Image is the PNG rendering of the QR code.
	Image []byte

	// Payload is the raw QR string, when the provider has it. Terminals can
	// render it directly.
	Payload string

	// LinkCode is a provider-issued phone linking code, when available.
	LinkCode string
}

// ConversationProvider is the messaging client seen by the pipeline.
//
// Implementations are not required to be safe for concurrent use; wrap them
// with NewWorker to serialize access.
type ConversationProvider interface {
	// Name identifies the provider ("whatsapp", "browser", "console").
	Name() string

	// ListConversations returns up to limit conversations, most recent first.
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)

	// LatestMessage returns the newest message of a conversation.
	LatestMessage(ctx context.Context, conv Conversation) (Snapshot, error)

	// SendText sends a text message to a conversation or admin target.
	SendText(ctx context.Context, target, text string) error

	// SendImage sends a local image file to a conversation or admin target.
	SendImage(ctx context.Context, target, path string) error

	// IsConnected probes whether the session is linked and usable.
	IsConnected(ctx context.Context) bool

	// BeginPairing starts a new login and returns the QR to present.
	BeginPairing(ctx context.Context) (QR, error)

	// ExportSession snapshots the provider's authentication state.
	ExportSession(ctx context.Context) ([]byte, error)

	// RestoreSession loads authentication state captured by ExportSession.
	RestoreSession(ctx context.Context, blob []byte) error

	// Close releases the provider's resources.
	Close() error
}
