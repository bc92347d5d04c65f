package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/locflow/locflow/internal/fault"
	"github.com/locflow/locflow/internal/store"
)

// SessionStore persists sessions as whole JSON documents in the work
// store. Saves are whole-document overwrites with no transactional
// guarantee beyond that.
type SessionStore struct {
	work store.Store
	mu   sync.Mutex
}

func NewSessionStore(work store.Store) *SessionStore {
	return &SessionStore{work: work}
}

func sessionPath(id string) string {
	return "sessions/" + id + ".json"
}

// Load reads one session. Returns a NotFound fault when no such session
// exists.
func (s *SessionStore) Load(id string) (*Session, error) {
	data, err := s.work.Read(sessionPath(id))
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, fault.New(fault.NotFound, "session %s not found", id)
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", id, err)
	}
	return &sess, nil
}

// Save writes the session back, stamping UpdatedAt.
func (s *SessionStore) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	return s.work.Write(sessionPath(sess.ID), data)
}

// List returns every stored session, newest first.
func (s *SessionStore) List() ([]*Session, error) {
	paths, err := s.work.List("sessions")
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, nil
		}
		return nil, err
	}

	var out []*Session
	for _, p := range paths {
		if !strings.HasSuffix(p, ".json") {
			continue
		}
		id := strings.TrimSuffix(p, ".json")
		sess, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes the session document. Owned batch artifacts are the
// Machine's responsibility.
func (s *SessionStore) Delete(id string) error {
	if !s.work.Exists(sessionPath(id)) {
		return fault.New(fault.NotFound, "session %s not found", id)
	}
	return s.work.Remove(sessionPath(id))
}
