package pbft

// This file implements the Checkpoint machine (spec.md §4.7): a
// (n,snapshot) pair becomes stable once 2f+1 matching CHECKPOINT messages
// exist in `in`, and the stable pair becomes the new low watermark,
// advancing stable_n and garbage-collecting `in` (spec.md §4.4, §9
// "checkpoint as sorted-items serialization" for the snapshot encoding
// itself, see digest.go CanonicalSnapshot).
//
// `checkpoints` here holds only quorum-stable pairs (not every candidate
// a replica has locally produced): the genesis pair and the current stable
// pair. stable_n is tracked as lowWatermark, the sequence of the newest
// stable pair, so it is always a true BFT-stable watermark, never just
// "the oldest thing I happened to compute".

// checkpointQuorumCount counts distinct senders who have logged
// CHECKPOINT(., n, s, .) in the replica's log.
func (r *Replica) checkpointQuorumCount(n SeqNo, s Digest) int {
	seen := make(map[ReplicaID]struct{})
	for _, m := range r.log.OfKind(KindCheckpoint) {
		if m.Seq == n && m.Digest == s {
			seen[m.Sender] = struct{}{}
		}
	}
	return len(seen)
}

// tryStabilize promotes (n,s) to the stable low watermark if it has
// reached quorum (|C| >= 2f+1) and is newer than the current watermark.
// Callers hold r.mu.
func (r *Replica) tryStabilize(n SeqNo, s Digest) bool {
	if n <= r.lowWatermark {
		return false
	}
	if r.checkpointQuorumCount(n, s) < 2*r.f+1 {
		return false
	}

	r.checkpoints[n] = s
	for k := range r.checkpoints {
		if k != 0 && k != n {
			delete(r.checkpoints, k)
		}
	}
	r.lowWatermark = n
	r.metrics.setStableCheckpoint(n)

	threshold := SeqNo(0)
	if n > SeqNo(r.chkptInt) {
		threshold = n - SeqNo(r.chkptInt)
	}
	r.log.PrunePreExecutionWindow(threshold)
	for key := range r.slotBindings {
		if key.Seq <= threshold {
			delete(r.slotBindings, key)
		}
	}
	return true
}

// checkAndStabilizeCandidates re-checks every distinct (n,s) pair
// currently attested by CHECKPOINT messages in the log and promotes any
// that has newly reached quorum. It is called after every accepted
// CHECKPOINT (receive_checkpoint) and after a replica produces its own
// (execute), since either can be the message that completes a quorum.
// Callers hold r.mu.
func (r *Replica) checkAndStabilizeCandidates() {
	type pair struct {
		n SeqNo
		s Digest
	}
	candidates := make(map[pair]struct{})
	for _, m := range r.log.OfKind(KindCheckpoint) {
		if m.Seq > r.lowWatermark {
			candidates[pair{m.Seq, m.Digest}] = struct{}{}
		}
	}
	for c := range candidates {
		r.tryStabilize(c.n, c.s)
	}
}
