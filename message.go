package mailspool

// Message is the outgoing message handed to a Transport.
//
// The transport only reads recipients and the wire serialization; listeners
// may also mutate headers and add blind-copy recipients before the message
// is serialized. Recipient accessors return nil or an empty slice when a list
// is absent.
type Message interface {
	// To returns the primary recipients.
	To() []string
	// Cc returns the carbon-copy recipients.
	Cc() []string
	// Bcc returns the blind-copy recipients.
	Bcc() []string
	// AddBcc appends a blind-copy recipient.
	AddBcc(address string)

	// Header returns the value of a custom header, or "" if unset.
	Header(name string) string
	// SetHeader sets a custom header, replacing any previous value.
	SetHeader(name, value string)

	// String returns the full wire-format serialization of the message.
	String() string
}

// RecipientCount returns the number of addressees across all recipient lists.
func RecipientCount(msg Message) int {
	return len(msg.To()) + len(msg.Cc()) + len(msg.Bcc())
}
