package dingtalk

import (
	"encoding/json"
	"strings"
)

// Provider message kinds (msgtype)
const (
	MsgTypeText     = "text"
	MsgTypeRichText = "richText"
	MsgTypePicture  = "picture"
	MsgTypeAudio    = "audio"
	MsgTypeVideo    = "video"
	MsgTypeFile     = "file"
)

// MediaType is the kind of media attached to an inbound message
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaKindFile MediaType = "file"
)

// Placeholder texts for messages without a text body
const (
	PlaceholderImage    = "[image]"
	PlaceholderAudio    = "[audio]"
	PlaceholderVideo    = "[video]"
	PlaceholderFile     = "[file]"
	PlaceholderRichText = "[richText]"
)

// Chat types
const (
	ChatDirect = "direct"
	ChatGroup  = "group"
)

// FlexString accepts both JSON strings and numbers
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = FlexString(num.String())
	return nil
}

// InboundMessage is a robot message as delivered by the stream and outgoing-robot callbacks
type InboundMessage struct {
	MsgID                     string          `json:"msgId"`
	MsgType                   string          `json:"msgtype"`
	ConversationID            string          `json:"conversationId"`
	ConversationType          FlexString      `json:"conversationType"` // "1" direct, "2" group
	ConversationTitle         string          `json:"conversationTitle,omitempty"`
	SenderID                  string          `json:"senderId"`
	SenderNick                string          `json:"senderNick"`
	SenderStaffID             string          `json:"senderStaffId,omitempty"`
	SessionWebhook            string          `json:"sessionWebhook,omitempty"`
	SessionWebhookExpiredTime int64           `json:"sessionWebhookExpiredTime,omitempty"`
	CreateAt                  int64           `json:"createAt"`
	RobotCode                 string          `json:"robotCode,omitempty"`
	ChatbotUserID             string          `json:"chatbotUserId,omitempty"`
	IsInAtList                bool            `json:"isInAtList,omitempty"`
	Text                      *TextBody       `json:"text,omitempty"`
	Content                   json.RawMessage `json:"content,omitempty"`
}

// TextBody is the text field of a text message
type TextBody struct {
	Content string `json:"content"`
}

// ChatType returns ChatGroup for group conversations and ChatDirect otherwise
func (m *InboundMessage) ChatType() string {
	if m.ConversationType == "2" {
		return ChatGroup
	}
	return ChatDirect
}

// TextContent returns the raw text.content field
func (m *InboundMessage) TextContent() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Content
}

// ParseInboundMessage decodes a raw callback body
func ParseInboundMessage(data []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessageContent is the normalized form of any inbound message
type MessageContent struct {
	Text              string
	MessageType       string
	MediaDownloadCode string
	MediaType         MediaType
	FileName          string
}

// HasMedia reports whether the message carries a downloadable attachment
func (c MessageContent) HasMedia() bool {
	return c.MediaDownloadCode != ""
}

// Payload is one of the message kind variants. The unexported method keeps the set closed.
type Payload interface {
	normalize() MessageContent
}

// TextPayload is a plain text message
type TextPayload struct {
	Content string
}

// RichTextPart is one element of a rich text message
type RichTextPart struct {
	Type                string `json:"type,omitempty"`
	Text                string `json:"text,omitempty"`
	DownloadCode        string `json:"downloadCode,omitempty"`
	PictureDownloadCode string `json:"pictureDownloadCode,omitempty"`
	AtName              string `json:"atName,omitempty"`
}

// RichTextPayload is a mixed text, mention and picture message
type RichTextPayload struct {
	Parts []RichTextPart `json:"richText"`
}

// PicturePayload is an image message
type PicturePayload struct {
	DownloadCode        string `json:"downloadCode"`
	PictureDownloadCode string `json:"pictureDownloadCode,omitempty"`
}

// AudioPayload is a voice message; Recognition holds DingTalk's speech-to-text result
type AudioPayload struct {
	DownloadCode string `json:"downloadCode"`
	Recognition  string `json:"recognition,omitempty"`
	Duration     int64  `json:"duration,omitempty"`
}

// VideoPayload is a video message
type VideoPayload struct {
	DownloadCode string `json:"downloadCode"`
	Duration     int64  `json:"duration,omitempty"`
	VideoType    string `json:"videoType,omitempty"`
}

// FilePayload is a file message
type FilePayload struct {
	DownloadCode string `json:"downloadCode"`
	FileName     string `json:"fileName"`
}

// UnknownPayload covers message kinds without a dedicated variant
type UnknownPayload struct {
	Kind string
	Text string
}

// DecodePayload selects the variant for msg.MsgType. Malformed content decodes to an empty variant.
func DecodePayload(msg *InboundMessage) Payload {
	switch msg.MsgType {
	case MsgTypeText:
		return TextPayload{Content: msg.TextContent()}
	case MsgTypeRichText:
		var p RichTextPayload
		decodeContent(msg.Content, &p)
		return p
	case MsgTypePicture:
		var p PicturePayload
		decodeContent(msg.Content, &p)
		return p
	case MsgTypeAudio:
		var p AudioPayload
		decodeContent(msg.Content, &p)
		return p
	case MsgTypeVideo:
		var p VideoPayload
		decodeContent(msg.Content, &p)
		return p
	case MsgTypeFile:
		var p FilePayload
		decodeContent(msg.Content, &p)
		return p
	default:
		return UnknownPayload{Kind: msg.MsgType, Text: fallbackText(msg)}
	}
}

// Normalize converts an inbound message of any kind into MessageContent
func Normalize(msg *InboundMessage) MessageContent {
	if msg == nil {
		return MessageContent{}
	}
	content := DecodePayload(msg).normalize()
	content.MessageType = msg.MsgType
	return content
}

func (p TextPayload) normalize() MessageContent {
	return MessageContent{Text: strings.TrimSpace(p.Content)}
}

// Only the first picture of a rich text message is kept.
func (p RichTextPayload) normalize() MessageContent {
	var (
		text strings.Builder
		code string
	)
	for _, part := range p.Parts {
		switch {
		case part.Type == "picture" || (part.Type == "" && part.Text == "" && partCode(part) != ""):
			if code == "" {
				code = partCode(part)
			}
		case part.Type == "at" || part.AtName != "":
			text.WriteString("@" + part.AtName + " ")
		default:
			text.WriteString(part.Text)
		}
	}

	out := MessageContent{Text: strings.TrimSpace(text.String())}
	if code != "" {
		out.MediaDownloadCode = code
		out.MediaType = MediaImage
	}
	if out.Text == "" {
		if code != "" {
			out.Text = PlaceholderImage
		} else {
			out.Text = PlaceholderRichText
		}
	}
	return out
}

func (p PicturePayload) normalize() MessageContent {
	code := p.DownloadCode
	if code == "" {
		code = p.PictureDownloadCode
	}
	return MessageContent{Text: PlaceholderImage, MediaDownloadCode: code, MediaType: MediaImage}
}

func (p AudioPayload) normalize() MessageContent {
	text := strings.TrimSpace(p.Recognition)
	if text == "" {
		text = PlaceholderAudio
	}
	return MessageContent{Text: text, MediaDownloadCode: p.DownloadCode, MediaType: MediaAudio}
}

func (p VideoPayload) normalize() MessageContent {
	return MessageContent{Text: PlaceholderVideo, MediaDownloadCode: p.DownloadCode, MediaType: MediaVideo}
}

func (p FilePayload) normalize() MessageContent {
	text := PlaceholderFile
	if p.FileName != "" {
		text += " " + p.FileName
	}
	return MessageContent{
		Text:              text,
		MediaDownloadCode: p.DownloadCode,
		MediaType:         MediaKindFile,
		FileName:          p.FileName,
	}
}

func (p UnknownPayload) normalize() MessageContent {
	if text := strings.TrimSpace(p.Text); text != "" {
		return MessageContent{Text: text}
	}
	kind := p.Kind
	if kind == "" {
		kind = "unknown"
	}
	return MessageContent{Text: "[unsupported message: " + kind + "]"}
}

func partCode(part RichTextPart) string {
	if part.DownloadCode != "" {
		return part.DownloadCode
	}
	return part.PictureDownloadCode
}

func decodeContent(raw json.RawMessage, v interface{}) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

// fallbackText looks for text in text.content, then content.text or a string content
func fallbackText(msg *InboundMessage) string {
	if text := msg.TextContent(); text != "" {
		return text
	}
	if len(msg.Content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(msg.Content, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(msg.Content, &asObject); err == nil {
		if asObject.Text != "" {
			return asObject.Text
		}
		return asObject.Content
	}
	return ""
}
