package mailclient

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/emersion/go-imap"

	"tidemail/models"
	"tidemail/utils"
)

const previewLength = 150

// maxPartDepth bounds the multipart recursion for hostile messages.
const maxPartDepth = 8

// parseMessage turns a raw IMAP message into the cached representation.
// The HTML part is sanitized here so nothing unsafe is ever stored.
func parseMessage(msg *imap.Message) (models.Email, error) {
	if msg == nil {
		return models.Email{}, fmt.Errorf("nil message")
	}

	email := models.Email{UID: msg.Uid}
	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			email.Seen = true
		case imap.FlaggedFlag:
			email.Starred = true
		}
	}

	if env := msg.Envelope; env != nil {
		email.Subject = decodeHeader(env.Subject)
		email.Date = env.Date
		email.MessageID = env.MessageId
		if len(env.From) > 0 && env.From[0] != nil {
			email.From = env.From[0].Address()
			email.FromName = decodeHeader(env.From[0].PersonalName)
		}
		email.To = addressList(env.To)
		email.Cc = addressList(env.Cc)
		email.Bcc = addressList(env.Bcc)
	}
	if email.Date.IsZero() {
		email.Date = msg.InternalDate
	}

	var section imap.BodySectionName
	if r := msg.GetBody(&section); r != nil {
		if err := parseBody(r, &email); err != nil {
			return models.Email{}, err
		}
	}

	email.Attachments = attachmentMeta(msg.BodyStructure)

	if email.Body != "" {
		email.Preview = utils.Preview(email.Body, previewLength)
	} else if email.HTML != "" {
		email.Preview = utils.Preview(utils.HTMLToText(email.HTML), previewLength)
	}

	return email, nil
}

func addressList(addrs []*imap.Address) []string {
	var out []string
	for _, addr := range addrs {
		if addr != nil {
			out = append(out, addr.Address())
		}
	}
	return out
}

// decodeHeader resolves RFC 2047 encoded words, falling back to the raw
// value when decoding fails.
func decodeHeader(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// parseBody extracts the text and HTML parts from the raw message body.
func parseBody(r io.Reader, email *models.Email) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}

	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parsing message: %w", err)
	}

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		walkParts(m.Body, params["boundary"], email, 0)
		return nil
	}

	data, err := io.ReadAll(decodeTransfer(m.Body, m.Header.Get("Content-Transfer-Encoding")))
	if err != nil {
		return fmt.Errorf("reading part: %w", err)
	}
	if strings.HasPrefix(mediaType, "text/html") {
		email.HTML = utils.SanitizeHTML(string(data))
	} else {
		email.Body = string(data)
	}
	return nil
}

// walkParts picks the first text/plain and text/html parts out of a
// multipart tree.
func walkParts(r io.Reader, boundary string, email *models.Email, depth int) {
	if boundary == "" || depth > maxPartDepth {
		return
	}
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			return
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			walkParts(part, params["boundary"], email, depth+1)
		case strings.HasPrefix(mediaType, "text/plain") && email.Body == "":
			if data, err := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding"))); err == nil {
				email.Body = string(data)
			}
		case strings.HasPrefix(mediaType, "text/html") && email.HTML == "":
			if data, err := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding"))); err == nil {
				email.HTML = utils.SanitizeHTML(string(data))
			}
		}
	}
}

// decodeTransfer unwraps the content-transfer-encoding. The base64
// decoder skips the line breaks mail bodies carry.
func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// extractAttachment pulls the content of the index-th attachment out
// of a raw message. Parts are counted in the same depth-first order
// attachmentMeta lists them, so indexes line up with the cached
// metadata.
func extractAttachment(r io.Reader, index int) (*AttachmentData, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, utils.ProtocolError("reading message body failed", err)
	}
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, utils.ProtocolError("unparseable message", err)
	}

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, utils.NotFoundError("attachment not found", nil)
	}

	var (
		found   *AttachmentData
		counter int
	)
	var walk func(r io.Reader, boundary string, depth int)
	walk = func(r io.Reader, boundary string, depth int) {
		if boundary == "" || depth > maxPartDepth || found != nil {
			return
		}
		mr := multipart.NewReader(r, boundary)
		for found == nil {
			part, err := mr.NextPart()
			if err != nil {
				return
			}

			partType, partParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if strings.HasPrefix(partType, "multipart/") {
				walk(part, partParams["boundary"], depth+1)
				continue
			}
			if !isAttachmentPart(part.Header.Get("Content-Disposition"), partType) {
				continue
			}
			if counter != index {
				counter++
				continue
			}

			data, err := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding")))
			if err != nil {
				return
			}
			filename := part.FileName()
			if filename == "" {
				filename = partParams["name"]
			}
			found = &AttachmentData{
				Filename:    decodeHeader(filename),
				ContentType: partType,
				Content:     data,
			}
		}
	}
	walk(m.Body, params["boundary"], 0)

	if found == nil {
		return nil, utils.NotFoundError("attachment not found", nil)
	}
	return found, nil
}

// isAttachmentPart mirrors the predicate attachmentMeta applies to the
// body structure.
func isAttachmentPart(disposition, mediaType string) bool {
	d, _, _ := mime.ParseMediaType(disposition)
	d = strings.ToLower(d)
	return d == "attachment" ||
		(d == "inline" && !strings.HasPrefix(mediaType, "text/") && !strings.HasPrefix(mediaType, "multipart/"))
}

// attachmentMeta collects attachment names, types and sizes from the
// body structure without downloading any content.
func attachmentMeta(bs *imap.BodyStructure) []models.Attachment {
	var out []models.Attachment

	var walk func(part *imap.BodyStructure)
	walk = func(part *imap.BodyStructure) {
		if part == nil {
			return
		}
		disposition := strings.ToLower(part.Disposition)
		mimeType := strings.ToLower(part.MIMEType)
		isAttachment := disposition == "attachment" ||
			(disposition == "inline" && mimeType != "text" && mimeType != "multipart")
		if isAttachment {
			filename := part.DispositionParams["filename"]
			if filename == "" {
				filename = part.Params["name"]
			}
			out = append(out, models.Attachment{
				Filename:    decodeHeader(filename),
				ContentType: fmt.Sprintf("%s/%s", part.MIMEType, part.MIMESubType),
				Size:        int(part.Size),
			})
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(bs)

	return out
}
