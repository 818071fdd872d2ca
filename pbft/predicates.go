package pbft

// Prepared implements spec.md §4.2's prepared(m,v,n,M): M contains
// PRE-PREPARE(v,n,m,primary(v)) and at least 2f distinct senders other
// than primary(v) contributed PREPARE(v,n,hash(m),.) in M.
func Prepared(M MessageSet, req *RequestPayload, v View, n SeqNo, primary ReplicaID, f int) bool {
	d := RequestDigest(req)

	havePrePrepare := false
	for _, m := range M {
		if m.Kind == KindPrePrepare && m.View == v && m.Seq == n && m.Sender == primary && RequestDigest(m.Request) == d {
			havePrePrepare = true
			break
		}
	}
	if !havePrePrepare {
		return false
	}

	others := make(map[ReplicaID]struct{})
	for _, m := range M {
		if m.Kind == KindPrepare && m.View == v && m.Seq == n && m.Digest == d && m.Sender != primary {
			others[m.Sender] = struct{}{}
		}
	}
	return len(others) >= 2*f
}

// Committed implements spec.md §4.2's committed(m,v,n,M): some PRE-PREPARE
// in M pins (n,m) under primary(its view), OR m is itself present in M
// (covers a request arriving without its PRE-PREPARE); AND at least 2f+1
// distinct senders contributed COMMIT(v,n,hash(m),.) in M.
//
// Per spec.md §9's resolution of the source's ambiguous "commited"
// behavior, both the pin check and the quorum count scan the same
// argument M -- never a mix of M and the replica's full log.
func Committed(M MessageSet, req *RequestPayload, v View, n SeqNo, primaryOf func(View) ReplicaID, f int) bool {
	d := RequestDigest(req)

	pinned := false
	for _, m := range M {
		if m.Kind == KindPrePrepare && m.Seq == n && RequestDigest(m.Request) == d && m.Sender == primaryOf(m.View) {
			pinned = true
			break
		}
	}
	if !pinned {
		for _, m := range M {
			if m.Kind == KindRequest && RequestDigest(m.Request) == d {
				pinned = true
				break
			}
		}
	}
	if !pinned {
		return false
	}

	senders := make(map[ReplicaID]struct{})
	for _, m := range M {
		if m.Kind == KindCommit && m.View == v && m.Seq == n && m.Digest == d {
			senders[m.Sender] = struct{}{}
		}
	}
	return len(senders) >= 2*f+1
}

// HasNewView implements has_new_view(v): true when v==0, or M contains a
// NEW-VIEW for v.
func HasNewView(M MessageSet, v View) bool {
	if v == 0 {
		return true
	}
	for _, m := range M {
		if m.Kind == KindNewView && m.View == v {
			return true
		}
	}
	return false
}
