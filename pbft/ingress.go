package pbft

// This file implements the receive_* ingress handlers of spec.md §4.3.
// Every handler drops the message immediately if its sender is this
// replica's own index -- the replica's own messages are already in its
// log via emit-and-log, so a re-delivery of its own broadcast is a no-op
// (spec.md Testable Properties: "receive_preprepare from self is a
// no-op (and same for every receive_* from self)"). REQUEST carries no
// sender field in spec.md's data model, so it has no such check.

// receiveRequest implements receive_request((op,t,c)).
func (r *Replica) receiveRequest(req *RequestPayload) bool {
	c := req.Client
	t := req.Timestamp

	if t == r.replies.Timestamp(c) {
		reply, _ := r.replies.Get(c)
		r.emit(Message{
			Kind:           KindReply,
			View:           r.view,
			ReplyTimestamp: t,
			ReplyClient:    c,
			Sender:         r.i,
			Result:         reply,
		})
		return true
	}

	r.log.Add(Message{Kind: KindRequest, Request: req})
	r.metrics.observeIngest(KindRequest)

	if r.primary(r.view) != r.i {
		r.emit(Message{Kind: KindRequest, Request: req})
		return true
	}

	// Liveness hack (spec.md §4.3, carried from
	// original_source/pybft/replica.py's receive_request): if we are the
	// primary and already emitted a PRE-PREPARE for this request, re-emit
	// it in case the first broadcast was dropped.
	d := RequestDigest(req)
	for _, m := range r.log.OfKind(KindPrePrepare) {
		if m.View == r.view && m.Sender == r.i && RequestDigest(m.Request) == d {
			r.emit(m)
		}
	}
	return true
}

// receivePrePrepare implements receive_preprepare((v,n,m,j)).
func (r *Replica) receivePrePrepare(msg Message) bool {
	j := msg.Sender
	if j == r.i {
		return false
	}
	v, n, m := msg.View, msg.Seq, msg.Request

	cond := j == r.primary(v)
	cond = cond && r.inWV(v, n)
	cond = cond && HasNewView(r.log.All(), v)

	if cond {
		d := RequestDigest(m)
		for _, mx := range r.log.OfKind(KindPrepare) {
			if mx.View == v && mx.Seq == n && mx.Sender == r.i && mx.Digest != d {
				cond = false
				break
			}
		}
	}

	if cond {
		p := Message{Kind: KindPrepare, View: v, Seq: n, Digest: RequestDigest(m), Sender: r.i}
		r.log.AddAll(p, msg)
		r.emit(p)
		r.bindSlot(v, n, m)
		r.metrics.observeIngest(KindPrePrepare)
		return true
	}

	if m != nil {
		r.log.Add(Message{Kind: KindRequest, Request: m})
	}
	return false
}

// receivePrepare implements receive_prepare((v,n,d,j)).
func (r *Replica) receivePrepare(msg Message) bool {
	if msg.Sender == r.i {
		return false
	}
	if msg.Sender != r.primary(msg.View) && r.inWV(msg.View, msg.Seq) {
		r.log.Add(msg)
		r.metrics.observeIngest(KindPrepare)
		return true
	}
	return false
}

// receiveCommit implements receive_commit((v,n,d,j)).
func (r *Replica) receiveCommit(msg Message) bool {
	if msg.Sender == r.i {
		return false
	}
	if r.view >= msg.View && r.inW(msg.Seq) {
		r.log.Add(msg)
		r.metrics.observeIngest(KindCommit)
		return true
	}
	return false
}

// receiveCheckpoint implements receive_checkpoint((v,n,d,j)).
func (r *Replica) receiveCheckpoint(msg Message) bool {
	if msg.Sender == r.i {
		return false
	}
	if r.view >= msg.View && r.inW(msg.Seq) {
		r.log.Add(msg)
		r.metrics.observeIngest(KindCheckpoint)
		r.checkAndStabilizeCandidates()
		return true
	}
	return false
}
