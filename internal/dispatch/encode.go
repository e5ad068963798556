package dispatch

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/rhac/rhacbot/internal/payload"
)

// Multipart field names of the send request
const (
	FieldPassword    = "password"
	FieldMessageBody = "message_body"
	FieldImageFile   = "image_file"
	FieldRegions     = "regions"
	FieldBuildingIDs = "building_ids"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode writes msg as a multipart/form-data body and returns it together
// with the content type header value.
func Encode(msg payload.Message) (*bytes.Buffer, string, error) {
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	fields := [][2]string{
		{FieldPassword, msg.Credential()},
		{FieldMessageBody, msg.Body()},
	}
	target := msg.Target()
	for _, region := range target.Regions {
		fields = append(fields, [2]string{FieldRegions, region})
	}
	for _, id := range target.BuildingIDs {
		fields = append(fields, [2]string{FieldBuildingIDs, id})
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("error writing field %s: %w", f[0], err)
		}
	}

	if att := msg.Attachment(); att != nil {
		// CreateFormFile would force application/octet-stream
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			FieldImageFile, quoteEscaper.Replace(att.Filename)))
		h.Set("Content-Type", att.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("error creating image part: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", fmt.Errorf("error writing image part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
