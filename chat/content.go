package chat

// Kind is the wire tag identifying a message content variant.
type Kind int

// Wire kind tags. The numbering matches the backend content protocol and
// is not contiguous.
const (
	KindText         Kind = 1
	KindPhoto        Kind = 2
	KindVideo        Kind = 3
	KindAudio        Kind = 4
	KindFile         Kind = 5
	KindNotification Kind = 7
	KindLocation     Kind = 9
	KindContact      Kind = 10
	KindSticker      Kind = 11
	KindSystemEvent  Kind = 100
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindFile:
		return "file"
	case KindNotification:
		return "notification"
	case KindLocation:
		return "location"
	case KindContact:
		return "contact"
	case KindSticker:
		return "sticker"
	case KindSystemEvent:
		return "systemEvent"
	default:
		return "unknown"
	}
}

// MessageContent is the typed content of a message. Exactly one concrete
// type exists per wire kind; EncodeContent and DecodeContent switch
// exhaustively over the set.
type MessageContent interface {
	Kind() Kind
}

// Text is a plain text message.
type Text struct {
	Text string
}

// Kind implements MessageContent.
func (Text) Kind() Kind { return KindText }

// Photo is an image message.
type Photo struct {
	FileURL      string
	ThumbnailURL string
	AspectRatio  float64
}

// Kind implements MessageContent.
func (Photo) Kind() Kind { return KindPhoto }

// Video is a video message.
type Video struct {
	FileURL      string
	ThumbnailURL string
	AspectRatio  float64
	DurationMs   int
}

// Kind implements MessageContent.
func (Video) Kind() Kind { return KindVideo }

// Audio is a voice or audio message.
type Audio struct {
	FileURL    string
	DurationMs int
}

// Kind implements MessageContent.
func (Audio) Kind() Kind { return KindAudio }

// File is an attached document.
type File struct {
	FileURL         string
	FileName        string
	FileLengthBytes int64
}

// Kind implements MessageContent.
func (File) Kind() Kind { return KindFile }

// Notification is a structured server notification. Fields is an opaque
// passthrough: every key and string value is preserved exactly, including
// keys this client does not recognize.
type Notification struct {
	Fields map[string]string
}

// Kind implements MessageContent.
func (Notification) Kind() Kind { return KindNotification }

// Location is a geographic coordinate message.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Kind implements MessageContent.
func (Location) Kind() Kind { return KindLocation }

// Contact is a shared contact card.
type Contact struct {
	VCard string
}

// Kind implements MessageContent.
func (Contact) Kind() Kind { return KindContact }

// Sticker is a sticker message.
type Sticker struct {
	Category string
	Name     string
}

// Kind implements MessageContent.
func (Sticker) Kind() Kind { return KindSticker }

// SystemEvent is a backend-generated event rendered inline in a
// conversation. Same passthrough shape as Notification, distinct tag.
type SystemEvent struct {
	Fields map[string]string
}

// Kind implements MessageContent.
func (SystemEvent) Kind() Kind { return KindSystemEvent }
