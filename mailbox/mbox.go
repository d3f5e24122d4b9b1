package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
)

// ErrMessageIDMissing marks an mbox entry without a usable Message-Id
// header. Such entries are skipped with a warning; without an identifier
// there is no idempotency key to ledger.
var ErrMessageIDMissing = errors.New("mbox message missing Message-Id header")

// mboxSession serves messages from a local mbox export, in file order,
// keyed by their Message-Id.
type mboxSession struct {
	ids  []string
	raws map[string][]byte
}

// OpenMbox reads the whole archive up front. These exports are small (one
// polling site's inbox), so holding them in memory keeps Fetch trivial.
func OpenMbox(path string, logger *slog.Logger) (Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	session := &mboxSession{raws: make(map[string][]byte)}
	reader := mboxlib.NewReader(file)

	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return session, nil
			}
			return nil, fmt.Errorf("mbox message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("mbox message %d read: %w", idx, err)
		}

		id, err := messageID(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping mbox entry", "index", idx, "err", err)
			}
			continue
		}
		if _, seen := session.raws[id]; seen {
			if logger != nil {
				logger.Warn("duplicate Message-Id in mbox, keeping first", "index", idx, "messageID", id)
			}
			continue
		}

		session.ids = append(session.ids, id)
		session.raws[id] = raw
	}
}

func (s *mboxSession) ListIDs() ([]string, error) {
	return s.ids, nil
}

func (s *mboxSession) Fetch(id string) ([]byte, error) {
	raw, ok := s.raws[id]
	if !ok {
		return nil, fmt.Errorf("no mbox entry for %q", id)
	}
	return raw, nil
}

func (s *mboxSession) Close() error {
	return nil
}

func messageID(raw []byte) (string, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	id := strings.TrimSpace(msg.Header.Get("Message-Id"))
	if id == "" {
		id = strings.TrimSpace(msg.Header.Get("Message-ID"))
	}
	id = strings.Trim(id, " <>")
	if id == "" {
		return "", ErrMessageIDMissing
	}
	return id, nil
}
