package session

import "time"

// Snapshot is an immutable view of the open session handed to readers
// outside the queue worker.
type Snapshot struct {
	ID               string
	StartTime        int64
	LastEventTime    int64
	ForegroundLength int64
	InForeground     bool
	EventCount       int
}

// Active reports whether the snapshot describes an open session.
func (s Snapshot) Active() bool {
	return s.ID != ""
}

// Duration is the wall-clock span between session start and the last event.
func (s Snapshot) Duration() time.Duration {
	if !s.Active() || s.LastEventTime < s.StartTime {
		return 0
	}
	return time.Duration(s.LastEventTime-s.StartTime) * time.Millisecond
}

// TimedOut reports whether no event arrived within timeout of now. A closed
// session is always timed out.
func (s Snapshot) TimedOut(now time.Time, timeout time.Duration) bool {
	if !s.Active() {
		return true
	}
	return now.UnixMilli()-s.LastEventTime >= timeout.Milliseconds()
}

// State is the session currently tracked by the queue worker. It is not safe
// for concurrent use; other goroutines read Snapshots.
type State struct {
	id               string
	startTime        int64
	lastEventTime    int64
	foregroundLength int64
	foregroundSince  int64
	eventCount       int
}

func New(id string, startTime int64) *State {
	return &State{
		id:              id,
		startTime:       startTime,
		lastEventTime:   startTime,
		foregroundSince: startTime,
	}
}

func (s *State) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *State) StartTime() int64 {
	return s.startTime
}

func (s *State) LastEventTime() int64 {
	return s.lastEventTime
}

// Touch records an event at ts. The last event time never moves backwards.
func (s *State) Touch(ts int64) {
	s.eventCount++
	if ts > s.lastEventTime {
		s.lastEventTime = ts
	}
}

// Foreground marks the app as visible from ts on.
func (s *State) Foreground(ts int64) {
	if s.foregroundSince == 0 {
		s.foregroundSince = ts
	}
	s.Touch(ts)
}

// Background closes the current foreground interval at ts and adds it to the
// accumulated foreground length.
func (s *State) Background(ts int64) {
	if s.foregroundSince > 0 && ts > s.foregroundSince {
		s.foregroundLength += ts - s.foregroundSince
	}
	s.foregroundSince = 0
	s.Touch(ts)
}

// SetForegroundLength overrides the accumulated length with a value measured
// by the lifecycle collaborator. Non-positive values are ignored.
func (s *State) SetForegroundLength(length int64) {
	if length > 0 {
		s.foregroundLength = length
	}
}

// ForegroundLength includes the interval still open at the last event.
func (s *State) ForegroundLength() int64 {
	length := s.foregroundLength
	if s.foregroundSince > 0 && s.lastEventTime > s.foregroundSince {
		length += s.lastEventTime - s.foregroundSince
	}
	return length
}

func (s *State) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		ID:               s.id,
		StartTime:        s.startTime,
		LastEventTime:    s.lastEventTime,
		ForegroundLength: s.ForegroundLength(),
		InForeground:     s.foregroundSince > 0,
		EventCount:       s.eventCount,
	}
}
