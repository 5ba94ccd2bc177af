package utils

import (
	"errors"

	"github.com/google/uuid"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/drill"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

var ErrSessionNotFound = errors.New("drill session not found")

type DrillSessionData struct {
	Key     string
	Config  *model.DrillConfig
	Session *drill.Session
}

// SessionLookup keeps track of the drill sessions owned by this process.
type SessionLookup struct {
	lookup map[string]*DrillSessionData
}

func NewSessionLookup() *SessionLookup {
	return &SessionLookup{
		lookup: make(map[string]*DrillSessionData),
	}
}

// AddSession registers a session and returns its generated key.
func (s *SessionLookup) AddSession(cfg *model.DrillConfig, sess *drill.Session) string {
	key := uuid.New().String()
	s.lookup[key] = &DrillSessionData{Key: key, Config: cfg, Session: sess}
	return key
}

func (s *SessionLookup) GetSession(key string) (*DrillSessionData, error) {
	if ret, ok := s.lookup[key]; ok {
		return ret, nil
	}
	return nil, ErrSessionNotFound
}

func (s *SessionLookup) RemoveSession(key string) {
	if data, err := s.GetSession(key); err == nil {
		data.Session.StopExecution()
		delete(s.lookup, data.Key)
	}
}

func (s *SessionLookup) GetSessions() []*DrillSessionData {
	ret := make([]*DrillSessionData, 0, len(s.lookup))
	for _, v := range s.lookup {
		ret = append(ret, v)
	}
	return ret
}

func (s *SessionLookup) Clear() {
	s.lookup = make(map[string]*DrillSessionData)
}
