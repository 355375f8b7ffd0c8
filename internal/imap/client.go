package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultFetchTimeout   = 60 * time.Second
)

type StandardClient struct {
	client         *client.Client
	connectTimeout time.Duration
	fetchTimeout   time.Duration
}

// NewStandardClient creates a new StandardClient. Zero timeouts fall back to the package defaults.
func NewStandardClient(connectTimeout, fetchTimeout time.Duration) *StandardClient {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &StandardClient{
		connectTimeout: connectTimeout,
		fetchTimeout:   fetchTimeout,
	}
}

// Connect establishes a TLS connection to endpoint (host:port). The dial, TLS handshake and
// greeting are bounded by the connect timeout and abandoned as soon as ctx is done.
func (c *StandardClient) Connect(ctx context.Context, endpoint string) error {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return fmt.Errorf("invalid IMAP endpoint %q: %w", endpoint, err)
	}

	dialer := &contextDialer{ctx: ctx, dialer: &net.Dialer{Timeout: c.connectTimeout}}
	cl, err := client.DialWithDialerTLS(dialer, endpoint, &tls.Config{ServerName: host})
	if err != nil {
		dialer.release()
		return fmt.Errorf("IMAP connection error: %w", err)
	}
	if err := dialer.release(); err != nil {
		_ = cl.Terminate()
		return fmt.Errorf("IMAP connection error: %w", err)
	}
	cl.Timeout = c.fetchTimeout
	c.client = cl
	return nil
}

// contextDialer adapts net.Dialer.DialContext to the client's Dial(network, addr) hook.
// The dialed connection keeps a deadline until release is called.
type contextDialer struct {
	ctx    context.Context
	dialer *net.Dialer
	conn   net.Conn
	stop   func() bool
}

func (d *contextDialer) Dial(network, addr string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(d.ctx, network, addr)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(d.dialer.Timeout)
	if ctxDeadline, ok := d.ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, err
	}

	d.conn = conn
	d.stop = context.AfterFunc(d.ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return conn, nil
}

// release clears the connect deadline; it fails when ctx ended during the connect
func (d *contextDialer) release() error {
	if d.conn == nil {
		return nil
	}
	if !d.stop() {
		return d.ctx.Err()
	}
	return d.conn.SetDeadline(time.Time{})
}

// Login authenticates the user with the IMAP server
func (c *StandardClient) Login(user, password string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Login(user, password)
}

// SelectMailbox selects name read-only so ingestion never changes remote flags
func (c *StandardClient) SelectMailbox(name string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	_, err := c.client.Select(name, true)
	return err
}

// ListAllUIDs returns every UID in the selected mailbox (UID SEARCH 1:*).
func (c *StandardClient) ListAllUIDs(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(1, 0)

	type result struct {
		uids []uint32
		err  error
	}
	done := make(chan result, 1)
	go func() {
		uids, err := c.client.UidSearch(criteria)
		done <- result{uids: uids, err: err}
	}()

	select {
	case <-ctx.Done():
		_ = c.client.Terminate()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("error listing UIDs: %w", r.err)
		}
		ids := make([]string, 0, len(r.uids))
		for _, uid := range r.uids {
			ids = append(ids, strconv.FormatUint(uint64(uid), 10))
		}
		return ids, nil
	}
}

// FetchBatch retrieves the full RFC 822 content of ids in one UID FETCH using BODY.PEEK[].
// Ids missing from the result were not returned by the server; callers treat them as per-message failures.
func (c *StandardClient) FetchBatch(ctx context.Context, ids []string) (map[string][]byte, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if len(ids) == 0 {
		return map[string][]byte{}, nil
	}

	seqSet := new(imap.SeqSet)
	for _, id := range ids {
		uid, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid UID %q: %w", id, err)
		}
		seqSet.AddNum(uint32(uid))
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	out := make(map[string][]byte, len(ids))
	for {
		select {
		case <-ctx.Done():
			_ = c.client.Terminate()
			return out, ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if err := <-done; err != nil {
					return out, fmt.Errorf("error fetching UIDs %s: %w", seqSet, err)
				}
				return out, nil
			}
			body := msg.GetBody(section)
			if body == nil {
				continue
			}
			raw, err := io.ReadAll(body)
			if err != nil {
				continue
			}
			out[strconv.FormatUint(uint64(msg.Uid), 10)] = raw
		}
	}
}

// Close logs out from the IMAP server. If there is no active connection, it simply returns nil.
func (c *StandardClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	return err
}

// StandardDialer hands out StandardClients sharing the same timeouts
type StandardDialer struct {
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration
}

func (d StandardDialer) NewClient() Client {
	return NewStandardClient(d.ConnectTimeout, d.FetchTimeout)
}
