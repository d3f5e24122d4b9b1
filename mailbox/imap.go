package mailbox

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPOptions carries the mailbox credentials. Server may include a port;
// 993 with implicit TLS is assumed otherwise.
type IMAPOptions struct {
	Server             string
	Username           string
	Password           string
	InsecureSkipVerify bool
}

type imapSession struct {
	client *imapclient.Client
	logger *slog.Logger
}

// DialIMAP connects, logs in and selects INBOX. The returned session must be
// closed by the caller.
func DialIMAP(opts IMAPOptions, logger *slog.Logger) (Session, error) {
	if opts.Server == "" {
		return nil, fmt.Errorf("imap server is empty")
	}

	address := opts.Server
	host := opts.Server
	if h, _, err := net.SplitHostPort(opts.Server); err == nil {
		host = h
	} else {
		address = net.JoinHostPort(opts.Server, "993")
	}

	options := &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
	}

	client, err := imapclient.DialTLS(address, options)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username)
	}

	return &imapSession{client: client, logger: logger}, nil
}

// ListIDs runs UID SEARCH ALL and returns the UIDs in ascending numeric
// order, independent of the order the server reported them in.
func (s *imapSession) ListIDs() ([]string, error) {
	data, err := s.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}

	uids := data.AllUIDs()
	slices.Sort(uids)

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

func (s *imapSession) Fetch(id string) ([]byte, error) {
	uid, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid uid %q: %w", id, err)
	}

	section := &imapv2.FetchItemBodySection{}
	options := &imapv2.FetchOptions{
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	msgs, err := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(uid)), options).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch uid %s: %w", id, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("fetch uid %s: no message returned", id)
	}

	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("fetch uid %s: body section missing", id)
	}
	return raw, nil
}

func (s *imapSession) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		if s.logger != nil {
			s.logger.Warn("imap logout failed", "err", err)
		}
	}
	return s.client.Close()
}
