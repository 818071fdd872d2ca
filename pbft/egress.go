package pbft

// This file implements the primary-side and execution-side transitions of
// spec.md §4.4: send_preprepare (primary assigns a sequence number to a
// pending request), send_commit (a replica that has prepared a slot
// broadcasts its commit vote), and execute (a replica that has committed
// the next slot in order applies it and replies).

// sendPrePrepare scans the log for REQUESTs the primary has not yet
// assigned a slot to, and assigns the next free sequence number to each,
// in the log bucket's (unordered map) iteration order, as long as doing so
// stays inside the sliding window.
// Non-primaries are no-ops. Callers hold r.mu.
func (r *Replica) sendPrePrepare() {
	if r.primary(r.view) != r.i {
		return
	}
	if !HasNewView(r.log.All(), r.view) {
		return
	}

	assigned := make(map[Digest]struct{})
	for _, m := range r.log.OfKind(KindPrePrepare) {
		if m.Sender == r.i {
			assigned[RequestDigest(m.Request)] = struct{}{}
		}
	}

	for _, m := range r.log.OfKind(KindRequest) {
		d := RequestDigest(m.Request)
		if _, done := assigned[d]; done {
			continue
		}
		n := r.seqno + 1
		if !r.inWV(r.view, n) {
			continue
		}
		pp := Message{Kind: KindPrePrepare, View: r.view, Seq: n, Sender: r.i, Request: m.Request}
		r.seqno = n
		r.log.Add(pp)
		r.emit(pp)
		r.bindSlot(r.view, n, m.Request)
		assigned[d] = struct{}{}
		r.metrics.observeSlot("preprepared")
	}
}

// sendCommit implements send_commit(v,n): if the slot's bound request is
// prepared and this replica has not already voted COMMIT for it, emit and
// log COMMIT(v,n,hash(m),self). Returns whether a COMMIT was emitted by
// this call (false when nothing is bound to (v,n) yet, the slot is not
// prepared, or this replica already voted). Callers hold r.mu.
func (r *Replica) sendCommit(v View, n SeqNo) bool {
	req, ok := r.boundRequestLocked(v, n)
	if !ok {
		return false
	}

	already := false
	for _, m := range r.log.OfKind(KindCommit) {
		if m.View == v && m.Seq == n && m.Sender == r.i {
			already = true
			break
		}
	}
	if already {
		return false
	}

	if !Prepared(r.log.All(), req, v, n, r.primary(v), r.f) {
		return false
	}

	c := Message{Kind: KindCommit, View: v, Seq: n, Digest: RequestDigest(req), Sender: r.i}
	r.log.Add(c)
	r.emit(c)
	r.metrics.observeSlot("prepared")
	return true
}

// execute implements execute(): if slot lastExec+1 is committed, apply its
// operation to the application state, update the reply cache, emit REPLY,
// advance lastExec, and -- on a chkpt_int boundary -- produce this
// replica's own CHECKPOINT for the new state. Returns whether execution
// advanced. Callers hold r.mu.
func (r *Replica) execute() bool {
	n := r.lastExec + 1
	v := r.view

	req, ok := r.boundRequestLocked(v, n)
	if !ok {
		return false
	}
	if !Committed(r.log.All(), req, v, n, r.primary, r.f) {
		return false
	}

	// spec.md §4.4: only a strictly newer timestamp actually applies the
	// op to val and advances the reply cache; a replayed or stale (same-
	// or lower-timestamp) request committed a second time -- e.g. a
	// Byzantine primary double-proposing the same digest at two slots --
	// must not re-apply, since Prepared/Committed alone never prevent
	// that from reaching quorum twice.
	var result []byte
	lastT := r.replies.Timestamp(req.Client)
	if req.Timestamp > lastT {
		r.val, result = r.app.Apply(req.Op, r.val)
		r.replies.Set(req.Client, result, req.Timestamp)
	} else {
		result, _ = r.replies.Get(req.Client)
	}
	r.lastExec = n
	r.log.Remove(Message{Kind: KindRequest, Request: req})
	r.metrics.setLastExec(n)
	r.metrics.observeSlot("executed")

	r.emit(Message{
		Kind:           KindReply,
		View:           v,
		ReplyTimestamp: req.Timestamp,
		ReplyClient:    req.Client,
		Sender:         r.i,
		Result:         result,
	})

	if r.chkptInt > 0 && uint64(n)%uint64(r.chkptInt) == 0 {
		snap := CanonicalSnapshot(r.val, r.replies)
		cp := Message{Kind: KindCheckpoint, View: v, Seq: n, Digest: snap, Sender: r.i}
		r.log.Add(cp)
		r.emit(cp)
		r.checkAndStabilizeCandidates()
	}

	return true
}
