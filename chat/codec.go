package chat

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// EncodeContent maps a typed content variant to its wire kind and flat
// body. Variants whose constraints are violated fail with
// ContentEncodeError; nothing is ever emitted partially.
func EncodeContent(c MessageContent) (Kind, map[string]any, error) {
	if c == nil {
		return 0, nil, &ContentEncodeError{Field: "content", Reason: "nil content"}
	}
	if field, reason, ok := validateContent(c); !ok {
		return 0, nil, &ContentEncodeError{ContentKind: c.Kind(), Field: field, Reason: reason}
	}

	switch v := c.(type) {
	case Text:
		return KindText, map[string]any{"content": v.Text}, nil
	case Photo:
		return KindPhoto, map[string]any{
			"filePath":  v.FileURL,
			"thumbnail": v.ThumbnailURL,
			"ratio":     v.AspectRatio,
		}, nil
	case Video:
		return KindVideo, map[string]any{
			"filePath":  v.FileURL,
			"thumbnail": v.ThumbnailURL,
			"ratio":     v.AspectRatio,
			"duration":  v.DurationMs,
		}, nil
	case Audio:
		return KindAudio, map[string]any{
			"filePath": v.FileURL,
			"duration": v.DurationMs,
		}, nil
	case File:
		return KindFile, map[string]any{
			"filePath": v.FileURL,
			"filename": v.FileName,
			"length":   v.FileLengthBytes,
		}, nil
	case Notification:
		return KindNotification, passthroughBody(v.Fields), nil
	case Location:
		return KindLocation, map[string]any{"lat": v.Latitude, "lon": v.Longitude}, nil
	case Contact:
		return KindContact, map[string]any{"vcard": v.VCard}, nil
	case Sticker:
		return KindSticker, map[string]any{"category": v.Category, "name": v.Name}, nil
	case SystemEvent:
		return KindSystemEvent, passthroughBody(v.Fields), nil
	default:
		return 0, nil, &ContentEncodeError{ContentKind: c.Kind(), Field: "content", Reason: "unsupported content type"}
	}
}

// DecodeContent maps a wire kind and flat body back to a typed variant.
// Unrecognized kinds and malformed bodies fail with ContentDecodeError;
// a partially-populated variant is never returned.
func DecodeContent(kind Kind, body map[string]any) (MessageContent, error) {
	var c MessageContent

	switch kind {
	case KindText:
		text, err := stringField(kind, body, "content")
		if err != nil {
			return nil, err
		}
		c = Text{Text: text}
	case KindPhoto:
		fileURL, err := stringField(kind, body, "filePath")
		if err != nil {
			return nil, err
		}
		thumb, err := stringField(kind, body, "thumbnail")
		if err != nil {
			return nil, err
		}
		ratio, err := numberField(kind, body, "ratio")
		if err != nil {
			return nil, err
		}
		c = Photo{FileURL: fileURL, ThumbnailURL: thumb, AspectRatio: ratio}
	case KindVideo:
		fileURL, err := stringField(kind, body, "filePath")
		if err != nil {
			return nil, err
		}
		thumb, err := stringField(kind, body, "thumbnail")
		if err != nil {
			return nil, err
		}
		ratio, err := numberField(kind, body, "ratio")
		if err != nil {
			return nil, err
		}
		duration, err := numberField(kind, body, "duration")
		if err != nil {
			return nil, err
		}
		c = Video{FileURL: fileURL, ThumbnailURL: thumb, AspectRatio: ratio, DurationMs: int(duration)}
	case KindAudio:
		fileURL, err := stringField(kind, body, "filePath")
		if err != nil {
			return nil, err
		}
		duration, err := numberField(kind, body, "duration")
		if err != nil {
			return nil, err
		}
		c = Audio{FileURL: fileURL, DurationMs: int(duration)}
	case KindFile:
		fileURL, err := stringField(kind, body, "filePath")
		if err != nil {
			return nil, err
		}
		name, err := stringField(kind, body, "filename")
		if err != nil {
			return nil, err
		}
		length, err := numberField(kind, body, "length")
		if err != nil {
			return nil, err
		}
		c = File{FileURL: fileURL, FileName: name, FileLengthBytes: int64(length)}
	case KindNotification:
		fields, err := passthroughFields(kind, body)
		if err != nil {
			return nil, err
		}
		c = Notification{Fields: fields}
	case KindLocation:
		lat, err := numberField(kind, body, "lat")
		if err != nil {
			return nil, err
		}
		lon, err := numberField(kind, body, "lon")
		if err != nil {
			return nil, err
		}
		c = Location{Latitude: lat, Longitude: lon}
	case KindContact:
		vcard, err := stringField(kind, body, "vcard")
		if err != nil {
			return nil, err
		}
		c = Contact{VCard: vcard}
	case KindSticker:
		category, err := stringField(kind, body, "category")
		if err != nil {
			return nil, err
		}
		name, err := stringField(kind, body, "name")
		if err != nil {
			return nil, err
		}
		c = Sticker{Category: category, Name: name}
	case KindSystemEvent:
		fields, err := passthroughFields(kind, body)
		if err != nil {
			return nil, err
		}
		c = SystemEvent{Fields: fields}
	default:
		return nil, &ContentDecodeError{ContentKind: kind, Field: "type", Reason: "unrecognized kind"}
	}

	if field, reason, ok := validateContent(c); !ok {
		return nil, &ContentDecodeError{ContentKind: kind, Field: field, Reason: reason}
	}
	return c, nil
}

// contentEnvelope is the stored/wire form of a content payload.
type contentEnvelope struct {
	Type    Kind           `json:"type"`
	Content map[string]any `json:"content"`
}

// MarshalContent serializes a content variant to its wire envelope.
func MarshalContent(c MessageContent) ([]byte, error) {
	kind, body, err := EncodeContent(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentEnvelope{Type: kind, Content: body})
}

// UnmarshalContent parses a wire envelope back into a typed variant.
func UnmarshalContent(data []byte) (MessageContent, error) {
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ContentDecodeError{Field: "content", Reason: err.Error()}
	}
	return DecodeContent(env.Type, env.Content)
}

// validateContent checks a variant's own constraints. Returns the
// offending field and reason when violated.
func validateContent(c MessageContent) (field, reason string, ok bool) {
	switch v := c.(type) {
	case Text:
		if v.Text == "" {
			return "content", "empty text", false
		}
	case Photo:
		if v.FileURL == "" {
			return "filePath", "empty file URL", false
		}
		if v.ThumbnailURL == "" {
			return "thumbnail", "empty thumbnail URL", false
		}
		if v.AspectRatio <= 0 {
			return "ratio", "must be positive", false
		}
	case Video:
		if v.FileURL == "" {
			return "filePath", "empty file URL", false
		}
		if v.ThumbnailURL == "" {
			return "thumbnail", "empty thumbnail URL", false
		}
		if v.AspectRatio <= 0 {
			return "ratio", "must be positive", false
		}
		if v.DurationMs <= 0 {
			return "duration", "must be positive", false
		}
	case Audio:
		if v.FileURL == "" {
			return "filePath", "empty file URL", false
		}
		if v.DurationMs <= 0 {
			return "duration", "must be positive", false
		}
	case File:
		if v.FileURL == "" {
			return "filePath", "empty file URL", false
		}
		if v.FileName == "" {
			return "filename", "empty file name", false
		}
		if v.FileLengthBytes < 0 {
			return "length", "must not be negative", false
		}
	case Location:
		if v.Latitude < -90 || v.Latitude > 90 {
			return "lat", "out of range", false
		}
		if v.Longitude < -180 || v.Longitude > 180 {
			return "lon", "out of range", false
		}
	case Contact:
		if v.VCard == "" {
			return "vcard", "empty vCard", false
		}
	case Sticker:
		if v.Category == "" {
			return "category", "empty category", false
		}
		if v.Name == "" {
			return "name", "empty name", false
		}
	}
	// Notification and SystemEvent are opaque passthroughs with no
	// field constraints of their own.
	return "", "", true
}

func passthroughBody(fields map[string]string) map[string]any {
	body := make(map[string]any, len(fields))
	for k, v := range fields {
		body[k] = v
	}
	return body
}

func passthroughFields(kind Kind, body map[string]any) (map[string]string, error) {
	fields := make(map[string]string, len(body))
	for k, raw := range body {
		s, ok := raw.(string)
		if !ok {
			return nil, &ContentDecodeError{ContentKind: kind, Field: k, Reason: "not a string"}
		}
		fields[k] = s
	}
	return fields, nil
}

func stringField(kind Kind, body map[string]any, field string) (string, error) {
	raw, ok := body[field]
	if !ok {
		return "", &ContentDecodeError{ContentKind: kind, Field: field, Reason: "missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ContentDecodeError{ContentKind: kind, Field: field, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	return s, nil
}

func numberField(kind Kind, body map[string]any, field string) (float64, error) {
	raw, ok := body[field]
	if !ok {
		return 0, &ContentDecodeError{ContentKind: kind, Field: field, Reason: "missing"}
	}
	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, &ContentDecodeError{ContentKind: kind, Field: field, Reason: "not a number"}
		}
		return f, nil
	default:
		return 0, &ContentDecodeError{ContentKind: kind, Field: field, Reason: fmt.Sprintf("expected number, got %T", raw)}
	}
}
