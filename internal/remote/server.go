package remote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"go.opentelemetry.io/otel"

	"github.com/coldvault/coldvault/internal/quicutil"
	"github.com/coldvault/coldvault/internal/ratelimit"
	"github.com/coldvault/coldvault/internal/repository"
)

func unmarshalInto(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// compactionPollInterval is how often a server-held repository checks
// its compaction queue for segments worth rewriting.
const compactionPollInterval = 30 * time.Second

// ServerConfig configures a repository server's QUIC listener.
type ServerConfig struct {
	ListenAddr     string
	MaxConnections int
	ConnTimeout    time.Duration
	HostID         string
	SecurityDir    string
	MasterSecret   []byte
}

// Server accepts QUIC connections, opens repository streams on them,
// and dispatches RPC frames against a local repository.
type Server struct {
	config            *ServerConfig
	activeConnections int64
	totalConnections  int64
	bytesServed       int64
}

// NewServer creates a repository server from config.
func NewServer(config *ServerConfig) *Server {
	return &Server{config: config}
}

// Start runs the QUIC listen loop until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	tr := otel.Tracer("coldvault-remote")
	ctx, span := tr.Start(ctx, "remote.server.start")
	defer span.End()

	tlsConfig, err := serverTLSConfig()
	if err != nil {
		return err
	}
	quicConfig := &quic.Config{MaxIdleTimeout: 30 * time.Second, KeepAlivePeriod: 10 * time.Second}

	listener, err := quic.ListenAddr(s.config.ListenAddr, tlsConfig, quicConfig)
	if err != nil {
		return fmt.Errorf("remote: failed to start QUIC listener: %w", err)
	}
	defer listener.Close()

	connLimiter := ratelimit.NewTokenBucket(200, 400)

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if !connLimiter.Allow(1) {
			conn.CloseWithError(1, "connection rate limit exceeded")
			continue
		}

		active := atomic.LoadInt64(&s.activeConnections)
		if s.config.MaxConnections > 0 && active >= int64(s.config.MaxConnections) {
			conn.CloseWithError(1, "connection limit exceeded")
			continue
		}

		atomic.AddInt64(&s.activeConnections, 1)
		atomic.AddInt64(&s.totalConnections, 1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *quic.Conn) {
	tr := otel.Tracer("coldvault-remote")
	ctx, span := tr.Start(ctx, "remote.server.handleConnection")
	defer span.End()

	defer func() {
		atomic.AddInt64(&s.activeConnections, -1)
		conn.CloseWithError(0, "server closing")
	}()

	for {
		quicStream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handleStream(ctx, quicStream)
	}
}

func (s *Server) handleStream(ctx context.Context, quicStream *quic.Stream) {
	defer quicStream.Close()
	stream := NewStream(quicStream)

	if err := stream.ReceiveHello(); err != nil {
		stream.SendError(err)
		return
	}
	if err := stream.SendHello(); err != nil {
		return
	}

	var repo *repository.Repository
	var stopCompaction func()
	defer func() {
		if stopCompaction != nil {
			stopCompaction()
		}
		if repo != nil {
			repo.Close()
		}
	}()

	for {
		msgType, data, err := stream.Receive()
		if err != nil {
			return
		}

		switch msgType {
		case MessageTypeOpen:
			repo, err = s.handleOpen(data)
			if err == nil {
				stopCompaction = repo.StartBackgroundCompaction(compactionPollInterval)
			}
		case MessageTypePut:
			err = s.handlePut(repo, data)
		case MessageTypeGet:
			err = s.handleGet(repo, stream, data)
		case MessageTypeDelete:
			err = s.handleDelete(repo, data)
		case MessageTypeCommit:
			if repo != nil {
				err = repo.Commit()
			}
		case MessageTypeList:
			err = s.handleList(repo, stream)
		case MessageTypeCheck:
			err = s.handleCheck(repo, stream, data)
		default:
			err = fmt.Errorf("remote: unknown message type %d", msgType)
		}

		if err != nil {
			stream.SendError(err)
			continue
		}
		if msgType != MessageTypeGet && msgType != MessageTypeList && msgType != MessageTypeCheck {
			stream.Send(MessageTypeOK, struct{}{})
		}
	}
}

func (s *Server) handleOpen(data []byte) (*repository.Repository, error) {
	var req OpenRequest
	if err := unmarshalInto(data, &req); err != nil {
		return nil, err
	}
	if req.Create {
		mode := repository.ModeRepokey
		if req.Mode == "none" {
			mode = repository.ModeNone
		}
		if _, err := repository.Create(req.Path, mode); err != nil {
			return nil, err
		}
	}
	return repository.Open(req.Path, s.config.HostID, s.config.SecurityDir, s.config.MasterSecret)
}

func (s *Server) handlePut(repo *repository.Repository, data []byte) error {
	if repo == nil {
		return fmt.Errorf("remote: no repository open on this stream")
	}
	var req PutRequest
	if err := unmarshalInto(data, &req); err != nil {
		return err
	}
	atomic.AddInt64(&s.bytesServed, int64(len(req.Payload)))
	return repo.Put(req.ID, req.Payload)
}

func (s *Server) handleGet(repo *repository.Repository, stream *Stream, data []byte) error {
	if repo == nil {
		return fmt.Errorf("remote: no repository open on this stream")
	}
	var req GetRequest
	if err := unmarshalInto(data, &req); err != nil {
		return err
	}
	var payload []byte
	var err error
	if req.FixedID {
		payload, err = repo.GetFixedID(req.ID)
	} else {
		payload, err = repo.Get(req.ID)
	}
	if err != nil {
		return err
	}
	atomic.AddInt64(&s.bytesServed, int64(len(payload)))
	return stream.Send(MessageTypeGet, GetResponse{Payload: payload})
}

func (s *Server) handleDelete(repo *repository.Repository, data []byte) error {
	if repo == nil {
		return fmt.Errorf("remote: no repository open on this stream")
	}
	var req DeleteRequest
	if err := unmarshalInto(data, &req); err != nil {
		return err
	}
	return repo.Delete(req.ID)
}

func (s *Server) handleList(repo *repository.Repository, stream *Stream) error {
	if repo == nil {
		return fmt.Errorf("remote: no repository open on this stream")
	}
	var ids [][]byte
	if err := repo.Index().ForEach(func(id []byte, _ repository.Location) error {
		ids = append(ids, append([]byte(nil), id...))
		return nil
	}); err != nil {
		return err
	}
	return stream.Send(MessageTypeList, ListResponse{IDs: ids})
}

func (s *Server) handleCheck(repo *repository.Repository, stream *Stream, data []byte) error {
	if repo == nil {
		return fmt.Errorf("remote: no repository open on this stream")
	}
	var req CheckRequest
	if err := unmarshalInto(data, &req); err != nil {
		return err
	}
	report, err := repo.Check(req.VerifyData, req.StartSegment, req.MaxSegments)
	if err != nil {
		return err
	}
	return stream.Send(MessageTypeCheck, report)
}

func serverTLSConfig() (*tls.Config, error) {
	certPEM, keyPEM := serverSelfSignedCert()
	cfg, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	cfg.NextProtos = []string{"coldvault-remote"}
	return cfg, nil
}

// serverSelfSignedCert generates a fresh certificate and key each time
// the listener starts; grounded on relay's generateRelayTLSConfig, which
// also regenerated on every listener start since the relay has no
// durable identity to protect.
func serverSelfSignedCert() ([]byte, []byte) {
	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		panic(fmt.Errorf("remote: generate server certificate: %w", err))
	}
	return certPEM, keyPEM
}
