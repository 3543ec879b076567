// Package remote implements the wire protocol, server, and client for
// talking to a repository over something other than a local
// filesystem path.
package remote

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion guards against a client and server built from
// different protocol revisions talking past each other.
const ProtocolVersion = 1

// ErrInvalidProtocolVersion is returned when a peer's hello frame
// names a version this build does not understand.
var ErrInvalidProtocolVersion = errors.New("remote: unsupported protocol version")

// MessageType tags a frame's payload.
type MessageType uint8

const (
	MessageTypeHello MessageType = iota + 1
	MessageTypeOpen
	MessageTypePut
	MessageTypeGet
	MessageTypeDelete
	MessageTypeCommit
	MessageTypeList
	MessageTypeCheck
	MessageTypeLoadKey
	MessageTypeOK
	MessageTypeError
)

// HelloMessage is the first frame either side sends on a fresh stream.
type HelloMessage struct {
	ProtocolVersion int32  `json:"protocol_version"`
	ClientVersion   string `json:"client_version,omitempty"`
}

// OpenRequest asks the server to open (or create) the repository at
// Path; the server answers with an empty OK frame.
type OpenRequest struct {
	Path string `json:"path"`
	Create bool `json:"create,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// PutRequest carries an object's payload, which the server's
// repository compresses and encrypts before storing it.
type PutRequest struct {
	ID      []byte `json:"id"`
	Payload []byte `json:"payload"`
}

// GetRequest fetches an object by id. FixedID requests the
// manifest's non-content-addressed lookup path.
type GetRequest struct {
	ID      []byte `json:"id"`
	FixedID bool   `json:"fixed_id,omitempty"`
}

// GetResponse carries the object's payload as decrypted by the
// server's repository, which derives its session keys from
// ServerConfig.MasterSecret.
type GetResponse struct {
	Payload []byte `json:"payload"`
}

// DeleteRequest issues a DELETE entry for id.
type DeleteRequest struct {
	ID []byte `json:"id"`
}

// ListResponse enumerates every indexed object id, used for
// server-assisted checks and index rebuilds.
type ListResponse struct {
	IDs [][]byte `json:"ids"`
}

// CheckRequest mirrors repository.Check's parameters.
type CheckRequest struct {
	VerifyData   bool   `json:"verify_data"`
	StartSegment uint64 `json:"start_segment"`
	MaxSegments  int    `json:"max_segments"`
}

// LoadKeyResponse carries a repository's wrapped master secret as the
// reply to MessageTypeLoadKey. The server has no handler for
// MessageTypeLoadKey and never sends this response.
type LoadKeyResponse struct {
	WrappedMasterSecret []byte `json:"wrapped_master_secret"`
}

// ErrorResponse is sent in place of a success frame on failure.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Stream frames messages over any bidirectional byte stream: a QUIC
// stream in production, an in-memory pipe in tests.
type Stream struct {
	rw io.ReadWriteCloser
}

// NewStream wraps rw for framed message exchange.
func NewStream(rw io.ReadWriteCloser) *Stream {
	return &Stream{rw: rw}
}

// Send writes one frame: a type byte, a 4-byte big-endian length, and
// the JSON-encoded payload.
func (s *Stream) Send(msgType MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("remote: marshal %v payload: %w", msgType, err)
	}
	if err := binary.Write(s.rw, binary.BigEndian, msgType); err != nil {
		return err
	}
	if err := binary.Write(s.rw, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = s.rw.Write(data)
	return err
}

// Receive reads one frame and returns its type and raw JSON payload.
func (s *Stream) Receive() (MessageType, []byte, error) {
	var msgType MessageType
	if err := binary.Read(s.rw, binary.BigEndian, &msgType); err != nil {
		return 0, nil, err
	}
	var length uint32
	if err := binary.Read(s.rw, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(s.rw, data); err != nil {
		return 0, nil, err
	}
	return msgType, data, nil
}

// ReceiveInto reads one frame, requires it to have msgType, and
// unmarshals its payload into out.
func (s *Stream) ReceiveInto(msgType MessageType, out interface{}) error {
	gotType, data, err := s.Receive()
	if err != nil {
		return err
	}
	if gotType == MessageTypeError {
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(data, &errResp); jsonErr == nil {
			return errors.New(errResp.Message)
		}
		return errors.New("remote: server returned an error")
	}
	if gotType != msgType {
		return fmt.Errorf("remote: expected message type %d, got %d", msgType, gotType)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// SendHello sends the protocol handshake frame.
func (s *Stream) SendHello() error {
	return s.Send(MessageTypeHello, HelloMessage{ProtocolVersion: ProtocolVersion})
}

// ReceiveHello reads and validates a handshake frame.
func (s *Stream) ReceiveHello() error {
	var hello HelloMessage
	if err := s.ReceiveInto(MessageTypeHello, &hello); err != nil {
		return err
	}
	if hello.ProtocolVersion != ProtocolVersion {
		return ErrInvalidProtocolVersion
	}
	return nil
}

// SendError sends an error frame in place of a normal response.
func (s *Stream) SendError(err error) error {
	return s.Send(MessageTypeError, ErrorResponse{Message: err.Error()})
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.rw.Close()
}
