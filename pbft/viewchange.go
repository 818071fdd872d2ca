package pbft

import "fmt"

// This file implements the view-change machinery of spec.md §4.6:
// compute_P and compute_C build the certificates a replica carries into a
// new view; correct_view_change validates an incoming VIEW-CHANGE's
// embedded certificates; compute_new_view_sets reconstructs the
// re-propose (O) and null-filler (N) sets a new primary must issue;
// send_viewchange, send_newview and receive_new_view drive the
// transition itself.
//
// compute_P resolves the original's by_ni[1]/n1 indexing mistake (see
// original_source's pybft/replica.py compute_P) by explicitly picking,
// for each bound slot, the PRE-PREPARE certificate with the highest view
// -- never an arbitrary or off-by-one element of the per-slot candidate
// list.

// computeP builds the P set: one re-certified PRE-PREPARE per slot above
// the stable watermark that this replica ever prepared, carrying its own
// prepare certificate in ProofP. Among competing views for the same slot,
// the highest view wins. Callers hold r.mu.
func (r *Replica) computeP() MessageSet {
	type candidate struct {
		pp    Message
		proof MessageSet
	}
	best := make(map[SeqNo]candidate)

	for n, req := range r.slotBindings {
		if n.Seq <= r.lowWatermark {
			continue
		}
		d := RequestDigest(req)

		var bestPP Message
		var bestProof MessageSet
		haveBest := false
		for _, pp := range r.log.OfKind(KindPrePrepare) {
			if pp.Seq != n.Seq || RequestDigest(pp.Request) != d {
				continue
			}
			if haveBest && pp.View <= bestPP.View {
				continue
			}
			var proof MessageSet
			for _, p := range r.log.OfKind(KindPrepare) {
				if p.View == pp.View && p.Seq == n.Seq && p.Digest == d && p.Sender != pp.Sender {
					proof = append(proof, p)
				}
			}
			if len(proof) < 2*r.f {
				continue
			}
			bestPP, bestProof, haveBest = pp, proof, true
		}
		if !haveBest {
			continue
		}

		cur, exists := best[n.Seq]
		if !exists || bestPP.View > cur.pp.View {
			best[n.Seq] = candidate{pp: bestPP, proof: bestProof}
		}
	}

	slots := make(map[SeqNo]struct{}, len(best))
	for n := range best {
		slots[n] = struct{}{}
	}

	out := make(MessageSet, 0, len(best))
	for _, n := range sortedSeq(slots) {
		c := best[n]
		pp := c.pp
		pp.ProofP = c.proof
		out = append(out, pp)
	}
	return out
}

// computeC builds the C set: the quorum of CHECKPOINT messages that
// proved the current stable watermark. Callers hold r.mu.
func (r *Replica) computeC() MessageSet {
	s, ok := r.checkpoints[r.lowWatermark]
	if !ok {
		return nil
	}
	var out MessageSet
	seen := make(map[ReplicaID]struct{})
	for _, m := range r.log.OfKind(KindCheckpoint) {
		if m.Seq == r.lowWatermark && m.Digest == s {
			if _, dup := seen[m.Sender]; dup {
				continue
			}
			seen[m.Sender] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// correctViewChange validates an incoming VIEW-CHANGE's embedded
// certificates: when the claimed stable point is past genesis, its C set
// must carry > f distinct senders agreeing on (seq=msg.Seq,
// digest=msg.Digest) -- spec.md §4.6's compute_C quorum, one honest
// replica attesting plus quorum overlap, not a full 2f+1 commit quorum;
// every entry of its P set must itself carry a valid prepare certificate
// of >= 2f distinct non-primary senders and stay within max_out of
// msg.Seq.
func (r *Replica) correctViewChange(msg Message) bool {
	if msg.Seq > 0 {
		seen := make(map[ReplicaID]struct{})
		for _, c := range msg.ProofC {
			if c.Kind != KindCheckpoint || c.Seq != msg.Seq || c.Digest != msg.Digest {
				return false
			}
			seen[c.Sender] = struct{}{}
		}
		if len(seen) < r.f+1 {
			return false
		}
	}

	for _, p := range msg.ProofP {
		if p.Kind != KindPrePrepare || p.Seq <= msg.Seq {
			return false
		}
		if p.Seq-msg.Seq > SeqNo(r.maxOut) {
			return false
		}
		d := RequestDigest(p.Request)
		seen := make(map[ReplicaID]struct{})
		for _, q := range p.ProofP {
			if q.Kind != KindPrepare || q.View != p.View || q.Seq != p.Seq || q.Digest != d || q.Sender == p.Sender {
				return false
			}
			seen[q.Sender] = struct{}{}
		}
		if len(seen) < 2*r.f {
			return false
		}
	}
	return true
}

// TriggerViewChange is the exported entry point a transport's liveness
// timer (or, in this module, a manual pbftctl command) uses to force this
// replica to give up on the current view. It returns the messages the
// transition emits.
func (r *Replica) TriggerViewChange() ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.halted {
		return nil, r.haltCause
	}
	r.sendViewChange()
	out := r.out
	r.out = nil
	return out, nil
}

// sendViewChange builds and broadcasts this replica's VIEW-CHANGE for
// view = current view + 1, carrying its P and C certificates, and
// optimistically adopts that view so it stops acting as a participant of
// the old one. The caller (the transport's liveness timer) decides when a
// view change is warranted; this method only performs the transition.
func (r *Replica) sendViewChange() {
	next := r.view + 1
	vc := Message{
		Kind:   KindViewChange,
		View:   next,
		Seq:    r.lowWatermark,
		Digest: r.checkpoints[r.lowWatermark],
		Sender: r.i,
		ProofC: r.computeC(),
		ProofP: r.computeP(),
	}
	r.view = next
	r.log.Add(vc)
	r.emit(vc)
	r.metrics.incViewChange()
	r.metrics.setView(next)
}

// computeNewViewSets implements compute_new_view_sets(V,v): given the 2f+1
// VIEW-CHANGE messages V gathered for view v, returns O (slots to
// re-propose, taken from the highest-view P certificate across V for that
// slot) and N (slots in range with no surviving certificate, filled with a
// null PRE-PREPARE carrying no request).
func computeNewViewSets(V MessageSet, v View, maxOut int) (O, N MessageSet) {
	minS := SeqNo(0)
	first := true
	maxN := SeqNo(0)
	for _, vc := range V {
		if first || vc.Seq < minS {
			minS = vc.Seq
		}
		first = false
		for _, p := range vc.ProofP {
			if p.Seq > maxN {
				maxN = p.Seq
			}
		}
	}
	if maxN < minS {
		maxN = minS
	}
	if maxN > minS+SeqNo(maxOut) {
		maxN = minS + SeqNo(maxOut)
	}

	best := make(map[SeqNo]Message)
	for _, vc := range V {
		for _, p := range vc.ProofP {
			cur, ok := best[p.Seq]
			if !ok || p.View > cur.View {
				best[p.Seq] = p
			}
		}
	}

	for n := minS + 1; n <= maxN; n++ {
		if p, ok := best[n]; ok {
			O = append(O, Message{Kind: KindPrePrepare, View: v, Seq: n, Sender: -1, Request: p.Request})
		} else {
			N = append(N, Message{Kind: KindPrePrepare, View: v, Seq: n, Sender: -1, Request: nil})
		}
	}
	return O, N
}

// sendNewView implements send_newview(v): if this replica is primary(v)
// and holds 2f+1 VIEW-CHANGE messages for v in its log, and no NEW-VIEW for
// v is logged yet, broadcasts NEW-VIEW(v,V,O,N) and applies O/N to its own
// log immediately.
func (r *Replica) sendNewView() bool {
	if r.primary(r.view) != r.i {
		return false
	}
	v := r.view
	if HasNewView(r.log.All(), v) {
		return false
	}

	var V MessageSet
	seen := make(map[ReplicaID]struct{})
	for _, vc := range r.log.OfKind(KindViewChange) {
		if vc.View == v {
			if _, dup := seen[vc.Sender]; !dup {
				seen[vc.Sender] = struct{}{}
				V = append(V, vc)
			}
		}
	}
	if len(seen) < 2*r.f+1 {
		return false
	}

	O, N := computeNewViewSets(V, v, r.maxOut)
	nv := Message{
		Kind:        KindNewView,
		View:        v,
		Sender:      r.i,
		GatheredX:   V,
		ReproposeO:  O,
		NullFillerN: N,
	}
	r.log.Add(nv)
	r.emit(nv)
	r.rehydrateFromViewChangeSet(V)
	r.applyNewViewSlots(v, O, N)
	return true
}

// receiveNewView implements receive_new_view(v,V,O,N): accepts iff sender
// is primary(v), the gathered set V independently reconstructs the same
// O and N the message claims, and every VIEW-CHANGE in V passes
// correct_view_change. On acceptance the replica adopts view v and
// installs O/N exactly as the primary did.
func (r *Replica) receiveNewView(msg Message) bool {
	if msg.Sender == r.i {
		return false
	}
	if msg.Sender != r.primary(msg.View) {
		return false
	}
	if len(msg.GatheredX) < 2*r.f+1 {
		return false
	}
	for _, vc := range msg.GatheredX {
		if !r.correctViewChange(vc) {
			return false
		}
	}

	// Every guard above already passed: sender is primary(v), the set is
	// large enough, and each VIEW-CHANGE in it is individually well-formed.
	// A mismatch here means the claimed O/N sets do not match what this
	// replica independently reconstructs from the same gathered set -- not
	// an ordinary rejection but the "NEW-VIEW that was internally accepted
	// by guards yet fails a recomputation double-check" case spec.md §7
	// reserves InvariantViolation for.
	O, N := computeNewViewSets(msg.GatheredX, msg.View, r.maxOut)
	if !sameSlots(O, msg.ReproposeO) || !sameSlots(N, msg.NullFillerN) {
		r.halt(newProtocolError(KindInvariantViolation, "receive_new_view",
			fmt.Errorf("view %d: NEW-VIEW from %d recomputes different O/N sets from its own gathered VIEW-CHANGEs", msg.View, msg.Sender)))
		return false
	}

	r.log.Add(msg)
	r.view = msg.View
	r.metrics.setView(msg.View)
	r.rehydrateFromViewChangeSet(msg.GatheredX)
	r.applyNewViewSlots(msg.View, msg.ReproposeO, msg.NullFillerN)
	return true
}

// rehydrateFromViewChangeSet implements the "update_state_nv" rehydration
// spec.md §4.6 describes: if the gathered VIEW-CHANGE set attests a stable
// checkpoint past this replica's own, adopt that checkpoint's (n,digest)
// as the new watermark, advance last_exec to at least n (the checkpoint is
// proof that every slot up to n was already executed cluster-wide), and
// garbage-collect the log and slot bindings at or below n - chkpt_int, same
// as an ordinary checkpoint stabilization. This module does not model
// out-of-band application-state transfer (spec §1 Non-goals), so `val`
// itself is left as this replica's own -- a real deployment would pair
// this with a state-transfer collaborator to fetch the snapshot at n from
// a peer that has it.
func (r *Replica) rehydrateFromViewChangeSet(V MessageSet) {
	maxN := r.lowWatermark
	var maxDigest Digest
	found := false
	for _, vc := range V {
		if vc.Seq > maxN {
			maxN, maxDigest, found = vc.Seq, vc.Digest, true
		}
	}
	if !found {
		return
	}

	r.checkpoints = map[SeqNo]Digest{0: r.checkpoints[0], maxN: maxDigest}
	r.lowWatermark = maxN
	r.metrics.setStableCheckpoint(maxN)

	if r.lastExec < maxN {
		r.lastExec = maxN
		r.metrics.setLastExec(maxN)
	}

	threshold := SeqNo(0)
	if maxN > SeqNo(r.chkptInt) {
		threshold = maxN - SeqNo(r.chkptInt)
	}
	r.log.PrunePreExecutionWindow(threshold)
	for key := range r.slotBindings {
		if key.Seq <= threshold {
			delete(r.slotBindings, key)
		}
	}
}

// applyNewViewSlots installs the O and N sets into this replica's own log
// and slot bindings, and -- if this replica is not the primary of v --
// emits matching PREPAREs, mirroring what receive_preprepare would have
// done had these arrived as ordinary PRE-PREPAREs. Callers hold r.mu.
func (r *Replica) applyNewViewSlots(v View, O, N MessageSet) {
	for _, pp := range append(append(MessageSet{}, O...), N...) {
		pp.Sender = r.primary(v)
		r.log.Add(pp)
		if pp.Request != nil {
			r.bindSlot(v, pp.Seq, pp.Request)
		}
		if pp.Seq > r.seqno {
			r.seqno = pp.Seq
		}
		if r.primary(v) != r.i {
			p := Message{Kind: KindPrepare, View: v, Seq: pp.Seq, Digest: RequestDigest(pp.Request), Sender: r.i}
			r.log.Add(p)
			r.emit(p)
		}
	}
}

func sameSlots(a, b MessageSet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Seq != b[i].Seq || RequestDigest(a[i].Request) != RequestDigest(b[i].Request) {
			return false
		}
	}
	return true
}
