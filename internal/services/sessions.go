package services

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StatusStarting  = "starting"
	StatusLive      = "live"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusStopped || status == StatusError
}

type Session struct {
	mu sync.Mutex

	videoID   string
	taskID    string
	platform  string
	streamKey string
	loops     int
	filename  string
	logPath   string

	status    string
	errMsg    string
	startedAt time.Time
	endedAt   time.Time

	proc        *process
	cleanupOnce sync.Once
}

type SessionSnapshot struct {
	VideoID   string     `json:"videoId"`
	TaskID    string     `json:"taskId"`
	Platform  string     `json:"platform"`
	StreamKey string     `json:"streamKey"`
	Loops     int        `json:"loops"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	LogFile   string     `json:"logFile,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func newSession(req StartRequest, filename string) *Session {
	return &Session{
		filename:  filename,
		videoID:   req.VideoID,
		taskID:    req.TaskID,
		platform:  req.Platform,
		streamKey: req.StreamKey,
		loops:     req.Loops,
		status:    StatusStarting,
		startedAt: time.Now(),
	}
}

// transition moves the session along starting -> live -> terminal. Terminal
// states are reached at most once and never left.
func (s *Session) transition(to, detail string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isTerminal(s.status) {
		return false
	}
	switch to {
	case StatusLive:
		if s.status != StatusStarting {
			return false
		}
	case StatusCompleted, StatusStopped, StatusError:
		s.endedAt = time.Now()
		s.errMsg = detail
	default:
		return false
	}
	s.status = to
	return true
}

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) attach(p *process, logPath string) {
	s.mu.Lock()
	s.proc = p
	s.logPath = logPath
	s.mu.Unlock()
}

func (s *Session) process() *process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		VideoID:   s.videoID,
		TaskID:    s.taskID,
		Platform:  s.platform,
		StreamKey: maskKey(s.streamKey),
		Loops:     s.loops,
		Status:    s.status,
		Error:     s.errMsg,
		LogFile:   s.logPath,
		StartedAt: s.startedAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

// Registry tracks at most one session per video id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Reserve stores s unless a non-terminal session already holds its video id.
// A terminal session still inside its grace period is replaced.
func (r *Registry) Reserve(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.videoID]; ok && !isTerminal(cur.Status()) {
		return ErrAlreadyRunning
	}
	r.sessions[s.videoID] = s
	return nil
}

func (r *Registry) Get(videoID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[videoID]
	return s, ok
}

// RemoveIf deletes videoID only while it still maps to s.
func (r *Registry) RemoveIf(videoID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[videoID] != s {
		return false
	}
	delete(r.sessions, videoID)
	return true
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) List() []SessionSnapshot {
	sessions := r.all()
	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) ActiveCount() int {
	n := 0
	for _, s := range r.all() {
		if !isTerminal(s.Status()) {
			n++
		}
	}
	return n
}
