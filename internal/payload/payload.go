package payload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chia-network/go-modules/pkg/slogs"

	"github.com/rhac/rhacbot/internal/selection"
)

// MaxAttachmentBytes caps the size of an image attachment
const MaxAttachmentBytes = 10 << 20

var (
	// ErrInvalidPayload groups every payload validation error
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrEmptyBody is returned when the message text is blank
	ErrEmptyBody = fmt.Errorf("%w: message body is empty", ErrInvalidPayload)

	// ErrNoRecipients is returned when the target names no region or building
	ErrNoRecipients = fmt.Errorf("%w: no recipients selected", ErrInvalidPayload)

	// ErrUnsupportedAttachment is returned when the attachment type is not allowed
	ErrUnsupportedAttachment = fmt.Errorf("%w: unsupported attachment type", ErrInvalidPayload)

	// ErrAttachmentTooLarge is returned when an attachment exceeds MaxAttachmentBytes
	ErrAttachmentTooLarge = fmt.Errorf("%w: attachment too large", ErrInvalidPayload)
)

// Attachment is a single in-memory image
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LoadAttachment reads the file at path into memory
func LoadAttachment(path string) (*Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening attachment: %w", err)
	}
	return ReadAttachment(filepath.Base(path), f)
}

// ReadAttachment captures r into an Attachment and always closes r, whether
// or not reading succeeds.
func ReadAttachment(filename string, r io.ReadCloser) (*Attachment, error) {
	defer func(r io.ReadCloser) {
		if err := r.Close(); err != nil {
			slogs.Logr.Error("Error closing attachment", "filename", filename, "error", err)
		}
	}(r)

	data, err := io.ReadAll(io.LimitReader(r, MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("error reading attachment: %w", err)
	}
	if len(data) > MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}

	return &Attachment{
		Filename:    filename,
		ContentType: detectContentType(filename, data),
		Data:        data,
	}, nil
}

func detectContentType(filename string, data []byte) string {
	contentType := http.DetectContentType(data)
	if contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
			contentType = byExt
		}
	}
	return mediaType(contentType)
}

// mediaType strips parameters such as charset from a content type
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Message is an assembled submission. It cannot be modified after Assemble.
type Message struct {
	credential string
	body       string
	attachment *Attachment
	target     selection.Target
}

// Assemble validates the parts of a submission and builds a Message.
// supported is the set of allowed attachment media types.
func Assemble(credential, body string, attachment *Attachment, target selection.Target, supported map[string]bool) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyBody
	}
	if target.Empty() {
		return Message{}, ErrNoRecipients
	}

	var att *Attachment
	if attachment != nil {
		contentType := mediaType(attachment.ContentType)
		if !supported[contentType] {
			return Message{}, fmt.Errorf("%w: %s", ErrUnsupportedAttachment, attachment.ContentType)
		}
		att = &Attachment{
			Filename:    attachment.Filename,
			ContentType: contentType,
			Data:        slices.Clone(attachment.Data),
		}
	}

	return Message{
		credential: credential,
		body:       body,
		attachment: att,
		target: selection.Target{
			Regions:     slices.Clone(target.Regions),
			BuildingIDs: slices.Clone(target.BuildingIDs),
		},
	}, nil
}

// Credential is the operator password sent with the message
func (m Message) Credential() string { return m.credential }

// Body is the message text
func (m Message) Body() string { return m.body }

// HasAttachment reports whether an image is attached
func (m Message) HasAttachment() bool { return m.attachment != nil }

// Attachment returns a copy of the attached image, or nil
func (m Message) Attachment() *Attachment {
	if m.attachment == nil {
		return nil
	}
	return &Attachment{
		Filename:    m.attachment.Filename,
		ContentType: m.attachment.ContentType,
		Data:        slices.Clone(m.attachment.Data),
	}
}

// Target returns a copy of the recipients
func (m Message) Target() selection.Target {
	return selection.Target{
		Regions:     slices.Clone(m.target.Regions),
		BuildingIDs: slices.Clone(m.target.BuildingIDs),
	}
}

// SupportedSet builds a lookup set from a list of media types
func SupportedSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[mediaType(t)] = true
	}
	return set
}
