// Package message provides an RFC 5322 message that satisfies mailspool.Message.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known header keys.
const (
	HeaderMessageID               = "Message-Id"
	HeaderDate                    = "Date"
	HeaderSubject                 = "Subject"
	HeaderFrom                    = "From"
	HeaderTo                      = "To"
	HeaderCc                      = "Cc"
	HeaderBcc                     = "Bcc"
	HeaderMIMEVersion             = "Mime-Version"
	HeaderContentType             = "Content-Type"
	HeaderContentTransferEncoding = "Content-Transfer-Encoding"
)

// DefaultContentType is used when no content type was set.
const DefaultContentType = "text/plain; charset=utf-8"

// ErrInvalidAddress is returned by Validate for unparsable addresses.
var ErrInvalidAddress = errors.New("message: invalid address")

// reserved headers are rendered from typed fields and cannot be set directly.
var reserved = map[string]bool{
	HeaderMessageID:               true,
	HeaderDate:                    true,
	HeaderSubject:                 true,
	HeaderFrom:                    true,
	HeaderTo:                      true,
	HeaderCc:                      true,
	HeaderBcc:                     true,
	HeaderMIMEVersion:             true,
	HeaderContentTransferEncoding: true,
}

// Message is a plain-text mail message.
//
// Setters return the message to allow chaining:
//
//	message.New().SetFrom("a@x.com").AddTo("b@x.com").SetSubject("Hi").SetBody("...")
//
// A Message is not safe for concurrent mutation.
type Message struct {
	id          string
	date        time.Time
	from        string
	to          []string
	cc          []string
	bcc         []string
	subject     string
	body        string
	contentType string

	headerOrder []string
	headers     map[string]string
}

// New creates an empty message with a fresh Message-ID and the current date.
func New() *Message {
	return &Message{
		id:          fmt.Sprintf("<%s@mailspool>", uuid.NewString()),
		date:        time.Now(),
		contentType: DefaultContentType,
		headers:     make(map[string]string),
	}
}

// ID returns the Message-ID header value.
func (m *Message) ID() string { return m.id }

// Date returns the message date.
func (m *Message) Date() time.Time { return m.date }

// From returns the sender.
func (m *Message) From() string { return m.from }

// To returns the primary recipients.
func (m *Message) To() []string { return m.to }

// Cc returns the carbon-copy recipients.
func (m *Message) Cc() []string { return m.cc }

// Bcc returns the blind-copy recipients.
func (m *Message) Bcc() []string { return m.bcc }

// Subject returns the subject.
func (m *Message) Subject() string { return m.subject }

// Body returns the undecoded body.
func (m *Message) Body() string { return m.body }

// SetID replaces the Message-ID.
func (m *Message) SetID(id string) *Message {
	if id = stripNewlines(id); id != "" {
		m.id = id
	}
	return m
}

// SetDate sets the message date.
func (m *Message) SetDate(t time.Time) *Message {
	m.date = t
	return m
}

// SetFrom sets the sender. CR and LF are removed.
func (m *Message) SetFrom(address string) *Message {
	m.from = strings.TrimSpace(stripNewlines(address))
	return m
}

// AddTo appends primary recipients. Blank addresses are skipped and CR
// and LF are removed from the rest.
func (m *Message) AddTo(addresses ...string) *Message {
	m.to = appendNonEmpty(m.to, addresses)
	return m
}

// AddCc appends carbon-copy recipients.
func (m *Message) AddCc(addresses ...string) *Message {
	m.cc = appendNonEmpty(m.cc, addresses)
	return m
}

// AddBcc appends a blind-copy recipient.
func (m *Message) AddBcc(address string) {
	m.bcc = appendNonEmpty(m.bcc, []string{address})
}

// SetSubject sets the subject.
func (m *Message) SetSubject(subject string) *Message {
	m.subject = subject
	return m
}

// SetBody sets the body.
func (m *Message) SetBody(body string) *Message {
	m.body = body
	return m
}

// SetContentType sets the body content type. Default is text/plain; charset=utf-8.
func (m *Message) SetContentType(contentType string) *Message {
	if contentType = strings.TrimSpace(stripNewlines(contentType)); contentType != "" {
		m.contentType = contentType
	}
	return m
}

// Header returns a custom header value, or "" if unset.
func (m *Message) Header(name string) string {
	return m.headers[textproto.CanonicalMIMEHeaderKey(name)]
}

// SetHeader sets a custom header. Headers rendered from typed fields
// (From, To, Subject, ...) are ignored; use the typed setters instead.
// Content-Type is forwarded to SetContentType.
func (m *Message) SetHeader(name, value string) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	if key == HeaderContentType {
		m.SetContentType(value)
		return
	}
	if reserved[key] || key == "" || strings.ContainsAny(key, "\r\n: ") {
		return
	}
	if _, ok := m.headers[key]; !ok {
		m.headerOrder = append(m.headerOrder, key)
	}
	m.headers[key] = value
}

// Validate checks that every address parses as RFC 5322.
func (m *Message) Validate() error {
	if m.from != "" {
		if _, err := mail.ParseAddress(m.from); err != nil {
			return fmt.Errorf("%w: from %q: %v", ErrInvalidAddress, m.from, err)
		}
	}
	for _, list := range [][]string{m.to, m.cc, m.bcc} {
		for _, a := range list {
			if _, err := mail.ParseAddress(a); err != nil {
				return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, a, err)
			}
		}
	}
	return nil
}

// String returns the full wire-format serialization with CRLF line endings.
// Blind-copy recipients are included: the spool keeps the complete envelope.
func (m *Message) String() string {
	var buf bytes.Buffer

	writeHeader(&buf, HeaderMessageID, m.id)
	writeHeader(&buf, HeaderDate, m.date.Format(time.RFC1123Z))
	if m.subject != "" {
		writeHeader(&buf, HeaderSubject, mime.QEncoding.Encode("utf-8", m.subject))
	}
	if m.from != "" {
		writeHeader(&buf, HeaderFrom, m.from)
	}
	writeList(&buf, HeaderTo, m.to)
	writeList(&buf, HeaderCc, m.cc)
	writeList(&buf, HeaderBcc, m.bcc)
	for _, key := range m.headerOrder {
		writeHeader(&buf, key, mime.QEncoding.Encode("utf-8", m.headers[key]))
	}
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, HeaderContentType, m.contentType)
	writeHeader(&buf, HeaderContentTransferEncoding, "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(normalizeNewlines(m.body)))
	_ = qp.Close()

	return buf.String()
}

// writeHeader writes one header line.
func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(stripNewlines(value))
	buf.WriteString("\r\n")
}

func writeList(buf *bytes.Buffer, key string, list []string) {
	if len(list) == 0 {
		return
	}
	writeHeader(buf, key, strings.Join(list, ", "))
}

func appendNonEmpty(dst, src []string) []string {
	for _, s := range src {
		if s = strings.TrimSpace(stripNewlines(s)); s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

// normalizeNewlines converts bare LF to CRLF so the body matches the headers.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// stripNewlines removes CR and LF so a value cannot start a new header line.
func stripNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
}
