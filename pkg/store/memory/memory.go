// Package memory is an in-process GraphStorage. Writes run as copy-on-write
// transactions under one mutex, so a failed write leaves no trace. It backs
// local development and the pipeline tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/store"

	"github.com/google/uuid"
)

// Write steps passed to a failpoint, in execution order.
const (
	StepSession    = "session"
	StepTopics     = "topics"
	StepElements   = "elements"
	StepEdges      = "edges"
	StepTopicEdges = "topic_edges"
	StepStatus     = "status"
)

type elementKey struct {
	userID string
	kind   common.ElementKind
	name   string
}

type topicKey struct {
	userID string
	name   string
}

type occurrenceKey struct {
	sessionID string
	elementID string
}

type relatedKey struct {
	elementID string
	topicID   string
}

type elementRecord struct {
	common.ElementNode
	userID string
}

type topicRecord struct {
	id        string
	name      string
	createdAt time.Time
}

type occurrenceRecord struct {
	context    string
	confidence float64
	strength   float64
	timestamp  string
	analyzedAt time.Time
	topics     []string
}

type graphState struct {
	sessions    map[string]common.Session
	elements    map[elementKey]elementRecord
	elementByID map[string]elementKey
	topics      map[topicKey]topicRecord
	occurrences map[occurrenceKey]occurrenceRecord
	related     map[relatedKey]float64
	next        map[string]string
}

func newState() *graphState {
	return &graphState{
		sessions:    map[string]common.Session{},
		elements:    map[elementKey]elementRecord{},
		elementByID: map[string]elementKey{},
		topics:      map[topicKey]topicRecord{},
		occurrences: map[occurrenceKey]occurrenceRecord{},
		related:     map[relatedKey]float64{},
		next:        map[string]string{},
	}
}

func (s *graphState) clone() *graphState {
	return &graphState{
		sessions:    maps.Clone(s.sessions),
		elements:    maps.Clone(s.elements),
		elementByID: maps.Clone(s.elementByID),
		topics:      maps.Clone(s.topics),
		occurrences: maps.Clone(s.occurrences),
		related:     maps.Clone(s.related),
		next:        maps.Clone(s.next),
	}
}

// Store implements store.GraphStorage in memory.
type Store struct {
	mu        sync.Mutex
	state     *graphState
	failpoint func(step string) error
	now       func() time.Time
}

var _ store.GraphStorage = (*Store)(nil)

func New() *Store {
	return &Store{
		state: newState(),
		now:   time.Now,
	}
}

// SetFailpoint installs fn, which is called after every write step of
// WriteSessionAnalysis. A non-nil error aborts the transaction.
func (s *Store) SetFailpoint(fn func(step string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failpoint = fn
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close(ctx context.Context) error {
	return nil
}

// update runs fn on a copy of the state and publishes the copy only when fn
// succeeds.
func (s *Store) update(fn func(st *graphState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.state.clone()
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx
	return nil
}

func (s *Store) view(fn func(st *graphState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (st *graphState) session(userID, sessionID string) (common.Session, error) {
	sess, ok := st.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return common.Session{}, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	return sess, nil
}

// relink rebuilds the NEXT_SESSION chain of a user by session date.
func (st *graphState) relink(userID string) {
	var ids []string
	for id, sess := range st.sessions {
		if sess.UserID == userID {
			ids = append(ids, id)
			delete(st.next, id)
		}
	}
	slices.SortFunc(ids, func(a, b string) int {
		return compareSessions(st.sessions[a], st.sessions[b])
	})
	for i := 1; i < len(ids); i++ {
		st.next[ids[i-1]] = ids[i]
	}
}

func compareSessions(a, b common.Session) int {
	if c := a.SessionDate.Compare(b.SessionDate); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}

func (s *Store) CreateSession(ctx context.Context, session common.Session) (common.Session, error) {
	if err := ctx.Err(); err != nil {
		return common.Session{}, err
	}
	if session.UserID == "" {
		return common.Session{}, fmt.Errorf("%w: session without user", common.ErrInvalidInput)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if session.SessionDate.IsZero() {
		session.SessionDate = now
	}
	session.Status = common.StatusCreated
	session.CreatedAt = now
	session.UpdatedAt = now

	err := s.update(func(st *graphState) error {
		if _, exists := st.sessions[session.ID]; exists {
			return fmt.Errorf("%w: session %s already exists", common.ErrInvalidInput, session.ID)
		}
		st.sessions[session.ID] = session
		st.relink(session.UserID)
		return nil
	})
	if err != nil {
		return common.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, userID, sessionID string) (common.Session, error) {
	var out common.Session
	err := s.view(func(st *graphState) error {
		sess, err := st.session(userID, sessionID)
		out = sess
		return err
	})
	return out, err
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]common.Session, error) {
	var out []common.Session
	_ = s.view(func(st *graphState) error {
		for _, sess := range st.sessions {
			if sess.UserID == userID {
				out = append(out, sess)
			}
		}
		return nil
	})
	slices.SortFunc(out, compareSessions)
	return out, nil
}

// NextSession returns the session following sessionID in the user's chain.
func (s *Store) NextSession(userID, sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.state.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return "", false
	}
	next, ok := s.state.next[sessionID]
	return next, ok
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return s.update(func(st *graphState) error {
		if _, err := st.session(userID, sessionID); err != nil {
			return err
		}
		delete(st.sessions, sessionID)
		delete(st.next, sessionID)

		touched := map[string]struct{}{}
		for key := range st.occurrences {
			if key.sessionID != sessionID {
				continue
			}
			delete(st.occurrences, key)
			touched[key.elementID] = struct{}{}
		}
		for elementID := range touched {
			ek := st.elementByID[elementID]
			rec := st.elements[ek]
			rec.Occurrences--
			if rec.Occurrences > 0 {
				st.elements[ek] = rec
				continue
			}
			delete(st.elements, ek)
			delete(st.elementByID, elementID)
			for rk := range st.related {
				if rk.elementID == elementID {
					delete(st.related, rk)
				}
			}
		}

		used := map[string]struct{}{}
		for rk := range st.related {
			used[rk.topicID] = struct{}{}
		}
		for tk, topic := range st.topics {
			if _, ok := used[topic.id]; !ok && tk.userID == userID {
				delete(st.topics, tk)
			}
		}

		st.relink(userID)
		return nil
	})
}

func (s *Store) UpdateSessionStatus(ctx context.Context, userID, sessionID string, status common.SessionStatus, reason string) error {
	return s.update(func(st *graphState) error {
		sess, err := st.session(userID, sessionID)
		if err != nil {
			return err
		}
		sess.Status = status
		sess.FailureReason = reason
		sess.UpdatedAt = s.now().UTC()
		st.sessions[sessionID] = sess
		return nil
	})
}

func (s *Store) UpdateSessionContent(ctx context.Context, userID, sessionID, title, transcript string) (common.Session, error) {
	var out common.Session
	err := s.update(func(st *graphState) error {
		sess, err := st.session(userID, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == common.StatusAnalyzed {
			return common.ErrSessionLocked
		}
		if title != "" {
			sess.Title = title
		}
		if transcript != "" {
			sess.Transcript = transcript
		}
		sess.UpdatedAt = s.now().UTC()
		st.sessions[sessionID] = sess
		out = sess
		return nil
	})
	return out, err
}

func (s *Store) SetSessionAudio(ctx context.Context, userID, sessionID, audioKey string) error {
	return s.update(func(st *graphState) error {
		sess, err := st.session(userID, sessionID)
		if err != nil {
			return err
		}
		sess.AudioKey = audioKey
		sess.UpdatedAt = s.now().UTC()
		st.sessions[sessionID] = sess
		return nil
	})
}

func (s *Store) WriteSessionAnalysis(
	ctx context.Context,
	userID string,
	sessionID string,
	result common.AnalysisResult,
	at time.Time,
) (common.WriteCounts, error) {
	var counts common.WriteCounts
	at = at.UTC()

	err := s.update(func(st *graphState) error {
		step := func(name string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.failpoint != nil {
				return s.failpoint(name)
			}
			return nil
		}

		sess, err := st.session(userID, sessionID)
		if err != nil {
			return err
		}
		sess.Status = common.StatusAnalyzing
		sess.UpdatedAt = at
		st.sessions[sessionID] = sess
		if err := step(StepSession); err != nil {
			return err
		}

		topicIDs := map[string]string{}
		for _, name := range result.Topics {
			key := topicKey{userID: userID, name: name}
			if t, ok := st.topics[key]; ok {
				counts.TopicsMatched++
				topicIDs[name] = t.id
				continue
			}
			id, err := util.NewID()
			if err != nil {
				return err
			}
			st.topics[key] = topicRecord{id: id, name: name, createdAt: at}
			topicIDs[name] = id
			counts.TopicsCreated++
		}
		if err := step(StepTopics); err != nil {
			return err
		}

		elements := result.Ordered()
		elementIDs := make([]string, len(elements))
		for i, el := range elements {
			key := elementKey{userID: userID, kind: el.Kind, name: el.Name}
			rec, ok := st.elements[key]
			if ok {
				counts.ElementsMatched++
			} else {
				id, err := util.NewID()
				if err != nil {
					return err
				}
				rec = elementRecord{
					ElementNode: common.ElementNode{
						ID:         id,
						Kind:       el.Kind,
						Name:       el.Name,
						Properties: el.Properties(),
						CreatedAt:  at,
					},
					userID: userID,
				}
				st.elementByID[id] = key
				counts.ElementsCreated++
			}
			rec.LastContext = el.Description
			if at.After(rec.LastSeenAt) {
				rec.LastSeenAt = at
			}
			st.elements[key] = rec
			elementIDs[i] = rec.ID
		}
		if err := step(StepElements); err != nil {
			return err
		}

		for i, el := range elements {
			key := occurrenceKey{sessionID: sessionID, elementID: elementIDs[i]}
			if _, ok := st.occurrences[key]; ok {
				counts.EdgesMatched++
			} else {
				counts.EdgesCreated++
				ek := st.elementByID[elementIDs[i]]
				rec := st.elements[ek]
				rec.Occurrences++
				st.elements[ek] = rec
			}
			st.occurrences[key] = occurrenceRecord{
				context:    el.Description,
				confidence: el.Confidence,
				strength:   el.Strength(),
				timestamp:  el.Timestamp,
				analyzedAt: at,
				topics:     slices.Clone(el.Topics),
			}
		}
		if err := step(StepEdges); err != nil {
			return err
		}

		for i, el := range elements {
			for _, topic := range el.Topics {
				topicID, ok := topicIDs[topic]
				if !ok {
					return fmt.Errorf("topic %q of element %q was not merged", topic, el.Name)
				}
				key := relatedKey{elementID: elementIDs[i], topicID: topicID}
				if _, ok := st.related[key]; ok {
					counts.EdgesMatched++
				} else {
					counts.EdgesCreated++
				}
				st.related[key] = store.TopicRelevance
			}
		}
		if err := step(StepTopicEdges); err != nil {
			return err
		}

		sess.Status = common.StatusAnalyzed
		sess.FailureReason = ""
		sess.AnalyzedAt = &at
		st.sessions[sessionID] = sess
		return step(StepStatus)
	})
	if err != nil {
		return common.WriteCounts{}, err
	}
	return counts, nil
}
