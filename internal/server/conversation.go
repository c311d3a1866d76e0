// Package server stores pairwise conversation history, addressed by
// usernames rather than connections so history survives reconnection.
package server

// Entry is a single stored message. Send order is the slice order.
type Entry struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// Store holds every pairwise message log. Each message is written under both
// directed keys of the pair, so either participant's (mine, theirs) lookup
// yields the full symmetric history. Confined to the hub's event loop.
type Store struct {
	logs map[string]map[string][]Entry
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{logs: make(map[string]map[string][]Entry)}
}

// Append records one message under both directions of the (from, to) pair.
func (s *Store) Append(from, to, message string) {
	entry := Entry{From: from, Message: message}
	s.directed(from)[to] = append(s.directed(from)[to], entry)
	if from != to {
		s.directed(to)[from] = append(s.directed(to)[from], entry)
	}
}

// History returns the stored log between a and b in send order. The result
// is a copy; callers cannot mutate the store through it.
func (s *Store) History(a, b string) []Entry {
	log := s.logs[a][b]
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}

// Clear deletes both directed logs for the pair. Clearing a pair with no
// history is a no-op.
func (s *Store) Clear(a, b string) {
	if directed, ok := s.logs[a]; ok {
		delete(directed, b)
	}
	if directed, ok := s.logs[b]; ok {
		delete(directed, a)
	}
}

func (s *Store) directed(owner string) map[string][]Entry {
	directed, ok := s.logs[owner]
	if !ok {
		directed = make(map[string][]Entry)
		s.logs[owner] = directed
	}
	return directed
}
