package archive

import (
	"sync"
	"time"
)

// SessionState is a backup session's position in its state machine.
type SessionState int

const (
	StatePending SessionState = iota + 1
	StateActive
	StateCheckpointed
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateCheckpointed:
		return "CHECKPOINTED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Session tracks one in-progress archive creation, surviving across
// checkpoint commits so a long-running backup can report progress and
// resume bookkeeping after an interruption.
type Session struct {
	ID           string
	ArchiveName  string
	SourcePaths  []string
	State        SessionState
	FilesTotal   int64
	FilesDone    int64
	BytesWritten int64
	ChunksNew    int64
	ChunksDeduped int64
	StartTime    time.Time
	UpdateTime   time.Time
	ErrorMessage string
	Metadata     map[string]string

	throughputSamples []float64
	lastUpdateTime    time.Time
	lastBytesWritten  int64

	mu sync.RWMutex
}

// NewSession creates a new backup session for archiveName, enumerating
// sourcePaths. filesTotal may be zero if the source tree's size is not
// known in advance (a streaming walk over an unbounded source).
func NewSession(id, archiveName string, sourcePaths []string, filesTotal int64) *Session {
	now := time.Now()
	return &Session{
		ID:                id,
		ArchiveName:       archiveName,
		SourcePaths:       sourcePaths,
		State:             StatePending,
		FilesTotal:        filesTotal,
		StartTime:         now,
		UpdateTime:        now,
		Metadata:          make(map[string]string),
		throughputSamples: make([]float64, 0, 10),
		lastUpdateTime:    now,
	}
}

// UpdateProgress records progress after processing more files, used to
// drive throughput estimates and ArchiveCreateProgress log lines.
func (s *Session) UpdateProgress(filesDone, bytesWritten int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration := now.Sub(s.lastUpdateTime).Seconds()

	if duration > 0 {
		delta := bytesWritten - s.lastBytesWritten
		rate := float64(delta) / duration / 1024 / 1024 // MiB/s

		s.throughputSamples = append(s.throughputSamples, rate)
		if len(s.throughputSamples) > 10 {
			s.throughputSamples = s.throughputSamples[1:]
		}
	}

	s.FilesDone = filesDone
	s.BytesWritten = bytesWritten
	s.UpdateTime = now
	s.lastUpdateTime = now
	s.lastBytesWritten = bytesWritten
}

// Throughput returns the session's recent average write rate in MiB/s.
func (s *Session) Throughput() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.throughputSamples) == 0 {
		return 0
	}
	var sum float64
	for _, rate := range s.throughputSamples {
		sum += rate
	}
	return sum / float64(len(s.throughputSamples))
}

// ProgressPercent returns completion percentage, or 0 if FilesTotal is
// unknown.
func (s *Session) ProgressPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FilesTotal == 0 {
		return 0
	}
	return float64(s.FilesDone) / float64(s.FilesTotal) * 100
}

// TransitionTo moves the session to newState, rejecting transitions
// outside the backup lifecycle (PENDING -> ACTIVE -> CHECKPOINTED* ->
// COMPLETED/FAILED; ACTIVE may also go straight to COMPLETED/FAILED).
func (s *Session) TransitionTo(newState SessionState, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	validTransitions := map[SessionState][]SessionState{
		StatePending:      {StateActive, StateFailed},
		StateActive:       {StateCheckpointed, StateCompleted, StateFailed},
		StateCheckpointed: {StateActive, StateCompleted, StateFailed},
		StateCompleted:    {},
		StateFailed:       {},
	}

	allowed := validTransitions[s.State]
	isValid := false
	for _, allowedState := range allowed {
		if allowedState == newState {
			isValid = true
			break
		}
	}
	if !isValid {
		return ErrInvalidStateTransition
	}

	s.State = newState
	s.UpdateTime = time.Now()
	if errorMsg != "" {
		s.ErrorMessage = errorMsg
	}
	return nil
}

// GetState returns the current state.
func (s *Session) GetState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}
