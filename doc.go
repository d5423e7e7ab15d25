// Package mailspool provides a mail transport that writes every outgoing
// message to a uniquely named file instead of delivering it over the network.
//
// Spooled files are useful for tests, audit trails, and pipelines that pick
// messages up later and process them out of band.
//
// # Basic Usage
//
//	dispatcher := mailspool.NewDispatcher()
//
//	transport, err := mailspool.NewFileTransport(dispatcher, "/var/spool/mail-out")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	msg := message.New().
//	    SetFrom("app@example.com").
//	    AddTo("a@example.com").
//	    SetSubject("Hello").
//	    SetBody("World")
//
//	n, err := transport.Send(ctx, msg) // n == 1
//
// # File Naming
//
// Each message is written to
//
//	<dir>/<YYYY-MM-DD HH_MM_SS>[_<suffix>].eml
//
// The file is created with O_EXCL. When another sender already claimed the
// name, the candidate is extended with "_" and then one random character per
// further attempt, drawn from [a-zA-Z0-9_-]. No lock is taken, so any number
// of transports and processes may share the directory. After
// WithMaxRetries attempts (default 10) the send fails with ErrRetryExhausted.
//
// # Listeners
//
// Listeners are bound to a Dispatcher and react to the before-send and
// after-send phases. A before-send listener may mutate the message (for
// example add a blind-copy recipient, see plugin/auditcopy) or cancel the
// send; a cancelled send returns 0 without writing anything. After-send
// listeners see the spooled path and are used to publish events
// (plugin/notify), copy the file to object storage (archive), or index it
// (journal).
//
// # Errors
//
// All filesystem failures match ErrIO. Use errors.Is with ErrDirectory,
// ErrRetryExhausted, or ErrPartialWrite to tell them apart.
package mailspool
