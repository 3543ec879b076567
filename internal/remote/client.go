package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/coldvault/coldvault/internal/quicutil"
)

// Client issues repository RPC calls over a single QUIC stream. A
// Client does no encryption or decryption itself: the server opens the
// repository with its configured master secret, so the server
// compresses and encrypts what Put sends and decrypts what Get returns.
type Client struct {
	conn   *quic.Conn
	stream *Stream
}

// Dial opens a QUIC connection to addr and establishes the protocol
// handshake on a fresh stream.
func Dial(ctx context.Context, addr string) (*Client, error) {
	tlsConfig := quicutil.MakeClientTLSConfig()
	tlsConfig.NextProtos = []string{"coldvault-remote"}
	quicConfig := &quic.Config{MaxIdleTimeout: 30 * time.Second, KeepAlivePeriod: 10 * time.Second}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}

	quicStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "handshake failed")
		return nil, fmt.Errorf("remote: open stream: %w", err)
	}

	c := &Client{conn: conn, stream: NewStream(quicStream)}
	if err := c.stream.SendHello(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.stream.ReceiveHello(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// OpenDial is like Dial plus an immediate Open call, for the common
// case of connecting straight to a known repository path.
func OpenDial(ctx context.Context, addr, path string, create bool, mode string) (*Client, error) {
	c, err := Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := c.Open(path, create, mode); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Open asks the server to open (or create) the repository at path.
func (c *Client) Open(path string, create bool, mode string) error {
	if err := c.stream.Send(MessageTypeOpen, OpenRequest{Path: path, Create: create, Mode: mode}); err != nil {
		return err
	}
	return c.stream.ReceiveInto(MessageTypeOK, nil)
}

// Put sends payload as object id; the server compresses and encrypts it.
func (c *Client) Put(id, payload []byte) error {
	if err := c.stream.Send(MessageTypePut, PutRequest{ID: id, Payload: payload}); err != nil {
		return err
	}
	return c.stream.ReceiveInto(MessageTypeOK, nil)
}

// Get fetches id's payload as decrypted by the server.
func (c *Client) Get(id []byte, fixedID bool) ([]byte, error) {
	if err := c.stream.Send(MessageTypeGet, GetRequest{ID: id, FixedID: fixedID}); err != nil {
		return nil, err
	}
	var resp GetResponse
	if err := c.stream.ReceiveInto(MessageTypeGet, &resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Delete issues a DELETE entry for id.
func (c *Client) Delete(id []byte) error {
	if err := c.stream.Send(MessageTypeDelete, DeleteRequest{ID: id}); err != nil {
		return err
	}
	return c.stream.ReceiveInto(MessageTypeOK, nil)
}

// Commit asks the server to seal and fsync the current segment.
func (c *Client) Commit() error {
	if err := c.stream.Send(MessageTypeCommit, struct{}{}); err != nil {
		return err
	}
	return c.stream.ReceiveInto(MessageTypeOK, nil)
}

// List enumerates every indexed object id.
func (c *Client) List() ([][]byte, error) {
	if err := c.stream.Send(MessageTypeList, struct{}{}); err != nil {
		return nil, err
	}
	var resp ListResponse
	if err := c.stream.ReceiveInto(MessageTypeList, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Check runs a repository check and returns its report.
func (c *Client) Check(verifyData bool, startSegment uint64, maxSegments int) (CheckReportJSON, error) {
	req := CheckRequest{VerifyData: verifyData, StartSegment: startSegment, MaxSegments: maxSegments}
	if err := c.stream.Send(MessageTypeCheck, req); err != nil {
		return CheckReportJSON{}, err
	}
	var report CheckReportJSON
	if err := c.stream.ReceiveInto(MessageTypeCheck, &report); err != nil {
		return CheckReportJSON{}, err
	}
	return report, nil
}

// CheckReportJSON mirrors repository.CheckReport's field names exactly
// (same default JSON encoding) without importing the repository
// package's internal error-slice semantics directly into the wire
// contract.
type CheckReportJSON struct {
	SegmentsScanned  int
	ObjectsVerified  int
	CRCErrors        []string
	IDMismatches     []string
	DecryptFailures  []string
	MissingReferents []string
	ResumeSegment    uint64
}

// Close closes the stream and underlying connection.
func (c *Client) Close() error {
	c.stream.Close()
	c.conn.CloseWithError(0, "client closing")
	return nil
}
