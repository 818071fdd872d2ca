package pbft

// This file implements route_receive (spec.md §4.5) and the post-dispatch
// progress sweep spec.md §9 describes as a "coroutine-free progress
// loop": after every well-formed message (accepted or not), a replica that is not blocked on
// anything keeps making whatever forward progress it can -- assigning
// pending requests to slots, committing prepared slots, and executing
// committed slots -- until a full pass finds nothing left to do.

// Receive is the single entry point spec.md §5 requires: exactly one
// in-flight call per replica. It validates the message's shape, dispatches
// it to the matching receive_* handler, and then runs the progress sweep.
// It returns a *ProtocolError only for malformed input or an invariant
// violation that halts the replica; ordinary protocol rejections (stale
// view, out of window, bad certificate) are reported only via the boolean
// accepted return, per spec.md's "receive_* returns whether the message
// was accepted, never an error, for protocol-level rejections".
func (r *Replica) Receive(msg Message) (accepted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.halted {
		return false, r.haltCause
	}

	if err := msg.Validate(); err != nil {
		return false, err
	}

	// REQUEST carries no sender to authenticate and REPLY is never valid
	// input (handled as a no-op below); every other kind must carry a
	// signature this replica's Signer collaborator accepts (spec.md §6).
	if msg.Kind != KindRequest && msg.Kind != KindReply && !r.signer.ValidSig(msg.Sender, msg) {
		return false, nil
	}

	switch msg.Kind {
	case KindRequest:
		accepted = r.receiveRequest(msg.Request)
	case KindPrePrepare:
		accepted = r.receivePrePrepare(msg)
	case KindPrepare:
		accepted = r.receivePrepare(msg)
	case KindCommit:
		accepted = r.receiveCommit(msg)
	case KindCheckpoint:
		accepted = r.receiveCheckpoint(msg)
	case KindViewChange:
		accepted = r.receiveViewChange(msg)
	case KindNewView:
		accepted = r.receiveNewView(msg)
	case KindReply:
		// REPLY is client-bound output, never replica input; a replica
		// delivered one has nothing to do with it.
		accepted = false
	}

	// A handler above may have called halt() on an InvariantViolation
	// (spec.md §7); a halted replica runs no further sweep and this call
	// surfaces the cause instead of a bare accepted/rejected result.
	if r.halted {
		return false, r.haltCause
	}

	r.sweep()
	return accepted, nil
}

// receiveViewChange implements receive_view_change((v,n,s,C,P,j)): accept
// into the log iff the claim is for this view or later and its embedded
// certificates check out. Acceptance alone does not advance this
// replica's own view -- only receiving (or itself sending) enough
// VIEW-CHANGEs to assemble a NEW-VIEW does that.
func (r *Replica) receiveViewChange(msg Message) bool {
	if msg.Sender == r.i {
		return false
	}
	if msg.View < r.view {
		return false
	}
	if !r.correctViewChange(msg) {
		return false
	}
	r.log.Add(msg)
	r.metrics.observeIngest(KindViewChange)
	return true
}

// sweep runs send_preprepare once (primary-only, idempotent: it skips
// slots it already assigned), then repeatedly attempts send_commit and
// execute across every PRE-PREPARE at or after the current view and the
// next sequence to execute, in ascending sequence order, until a full pass
// makes no further progress. A replica may also complete a pending view
// change here: once 2f+1 VIEW-CHANGEs for the current view are logged and
// this replica is that view's primary, it issues the NEW-VIEW. Callers
// hold r.mu.
func (r *Replica) sweep() {
	r.sendNewView()
	r.sendPrePrepare()

	for {
		progressed := false

		for _, pp := range r.log.SortedPrePrepares() {
			if pp.View < r.view || pp.Seq < r.lastExec+1 {
				continue
			}
			if r.sendCommit(pp.View, pp.Seq) {
				progressed = true
			}
		}

		if r.execute() {
			progressed = true
		}

		if !progressed {
			break
		}
	}
}
