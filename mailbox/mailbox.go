// Package mailbox provides the message sources the scheduler drains: a
// remote IMAP inbox for normal operation and a local mbox export for
// backfills.
package mailbox

// Session is one connected view of a mail source. The scheduler opens a
// session per cycle, drains it and closes it.
type Session interface {
	// ListIDs enumerates every message identifier, in the order messages
	// should be visited.
	ListIDs() ([]string, error)
	// Fetch returns the full raw message for an identifier.
	Fetch(id string) ([]byte, error)
	Close() error
}

// DialFunc opens a fresh session. A failure aborts the current cycle only.
type DialFunc func() (Session, error)
