package pbft

import (
	"encoding/hex"
	"sort"
	"sync"
)

// MsgLog is the replica's message log `in`: a set of messages partitioned
// by kind so per-kind scans are O(|kind|) rather than O(|in|), per
// spec.md §9's "message log as heterogeneous set" design note. It
// deduplicates by structural equality (kind + all fields, including
// sender), not by pointer identity.
type MsgLog struct {
	mu      sync.RWMutex
	buckets map[Kind]map[string]Message
}

// NewMsgLog returns an empty log.
func NewMsgLog() *MsgLog {
	l := &MsgLog{buckets: make(map[Kind]map[string]Message)}
	for k := KindRequest; k <= KindNewView; k++ {
		l.buckets[k] = make(map[string]Message)
	}
	return l
}

// dedupKey returns a structural-equality key for m: kind and all fields
// (including sender) are folded into the hex string of m's canonical encoding.
func dedupKey(m Message) string {
	return hex.EncodeToString(canonicalEncode(m))
}

// Add appends msg to the log if an equal message is not already present.
// It reports whether the message was newly added.
func (l *MsgLog) Add(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(msg)
}

func (l *MsgLog) addLocked(msg Message) bool {
	bucket, ok := l.buckets[msg.Kind]
	if !ok {
		bucket = make(map[string]Message)
		l.buckets[msg.Kind] = bucket
	}
	key := dedupKey(msg)
	if _, exists := bucket[key]; exists {
		return false
	}
	bucket[key] = msg
	return true
}

// AddAll batch-appends msgs, replacing the source's fused "add many,
// return self" idiom (spec.md §9) with a clearly-scoped batch operation.
func (l *MsgLog) AddAll(msgs ...Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		l.addLocked(m)
	}
}

// Contains reports whether an equal message is already logged.
func (l *MsgLog) Contains(msg Message) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bucket, ok := l.buckets[msg.Kind]
	if !ok {
		return false
	}
	_, exists := bucket[dedupKey(msg)]
	return exists
}

// Remove discards msg from the log (used by execute() to drop an
// executed REQUEST, spec.md §4.4).
func (l *MsgLog) Remove(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[msg.Kind]
	if !ok {
		return
	}
	delete(bucket, dedupKey(msg))
}

// OfKind returns a snapshot copy of every message of kind k.
func (l *MsgLog) OfKind(k Kind) MessageSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bucket := l.buckets[k]
	out := make(MessageSet, 0, len(bucket))
	for _, m := range bucket {
		out = append(out, m)
	}
	return out
}

// All returns a snapshot copy of the entire log, flattened across kinds.
func (l *MsgLog) All() MessageSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, b := range l.buckets {
		total += len(b)
	}
	out := make(MessageSet, 0, total)
	for _, b := range l.buckets {
		for _, m := range b {
			out = append(out, m)
		}
	}
	return out
}

// PrunePreExecutionWindow garbage-collects per-slot messages (PRE-PREPARE,
// PREPARE, COMMIT, CHECKPOINT) whose sequence number is at or below
// threshold, once a new checkpoint at stableN has become stable (spec.md
// §4.7 Checkpoint machine, and the testable property "after a stable
// checkpoint at n, no message in in has sequence <= n - chkpt_int
// remaining"). VIEW-CHANGE and NEW-VIEW messages are left alone: they are
// not bound to a single slot and are only ever superseded by a later
// view, not by checkpoint advancement. REQUEST is also left alone: it
// carries no sequence number of its own (that is assigned only once a
// PRE-PREPARE binds it to a slot), so Seq is always its zero value and a
// threshold-based scan over it would discard every not-yet-assigned
// request; REQUEST entries are instead removed explicitly by execute()
// once consumed.
func (l *MsgLog) PrunePreExecutionWindow(threshold SeqNo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range []Kind{KindPrePrepare, KindPrepare, KindCommit, KindCheckpoint} {
		bucket := l.buckets[k]
		for key, m := range bucket {
			if m.Seq <= threshold {
				delete(bucket, key)
			}
		}
	}
}

// PrePrepareAt returns the PRE-PREPARE bound to (v,n) from primary, if any.
func (l *MsgLog) PrePrepareAt(v View, n SeqNo, primary ReplicaID) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.buckets[KindPrePrepare] {
		if m.View == v && m.Seq == n && m.Sender == primary {
			return m, true
		}
	}
	return Message{}, false
}

// SortedPrePrepares returns every logged PRE-PREPARE sorted ascending by
// sequence number, used by the router's progress sweep (spec.md §4.5).
func (l *MsgLog) SortedPrePrepares() []Message {
	pps := l.OfKind(KindPrePrepare)
	sort.Slice(pps, func(i, j int) bool { return pps[i].Seq < pps[j].Seq })
	return pps
}
