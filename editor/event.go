// CLAUDE:SUMMARY Mutation event types: change cause enum, dirty set, and UpdateEvent delivered to listeners.
package editor

import "github.com/hazyhaar/docsync/snapshot"

// Cause tags why a document changed. Observers use it to tell genuine user
// edits apart from history replay and collaboration traffic.
type Cause string

const (
	CauseUserEdit             Cause = "user-edit"
	CauseHistoryReplay        Cause = "history-replay"
	CauseCollaborationInbound Cause = "collaboration-inbound"
)

// DirtySet records which top-level blocks an update touched.
type DirtySet struct {
	Blocks  []int `json:"blocks"`  // indexes into the new block list
	Removed int   `json:"removed"` // blocks dropped without replacement
	Cause   Cause `json:"cause"`
}

// Empty reports whether nothing changed.
func (d DirtySet) Empty() bool { return len(d.Blocks) == 0 && d.Removed == 0 }

// UpdateEvent is delivered to every update listener after a commit.
// Prev and Next are private copies; listeners must treat them as read-only.
type UpdateEvent struct {
	Seq   uint64
	Prev  snapshot.Content
	Next  snapshot.Content
	Dirty DirtySet
}

// UpdateListener observes committed updates.
type UpdateListener func(UpdateEvent)

// diffBlocks returns the changed window of next against prev using common
// prefix and suffix trimming.
func diffBlocks(prev, next []snapshot.Node) (dirty []int, removed int) {
	p := 0
	for p < len(prev) && p < len(next) && prev[p].Equal(next[p]) {
		p++
	}
	s := 0
	for s < len(prev)-p && s < len(next)-p && prev[len(prev)-1-s].Equal(next[len(next)-1-s]) {
		s++
	}
	for i := p; i < len(next)-s; i++ {
		dirty = append(dirty, i)
	}
	oldSpan := len(prev) - s - p
	newSpan := len(next) - s - p
	if oldSpan > newSpan {
		removed = oldSpan - newSpan
	}
	return dirty, removed
}
