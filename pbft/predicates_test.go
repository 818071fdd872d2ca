package pbft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreparedRequiresPrePrepareAndQuorum(t *testing.T) {
	req := &RequestPayload{Op: []byte("x"), Timestamp: 1, Client: "alice"}
	d := RequestDigest(req)
	f := 1

	pp := Message{Kind: KindPrePrepare, View: 0, Seq: 1, Sender: 0, Request: req}

	var M MessageSet
	assert.False(t, Prepared(M, req, 0, 1, 0, f), "no pre-prepare at all")

	M = MessageSet{pp}
	assert.False(t, Prepared(M, req, 0, 1, 0, f), "pre-prepare alone is not 2f prepares")

	M = append(M,
		Message{Kind: KindPrepare, View: 0, Seq: 1, Digest: d, Sender: 1},
	)
	assert.False(t, Prepared(M, req, 0, 1, 0, f), "one prepare short of 2f")

	M = append(M,
		Message{Kind: KindPrepare, View: 0, Seq: 1, Digest: d, Sender: 2},
	)
	assert.True(t, Prepared(M, req, 0, 1, 0, f))
}

func TestPreparedIgnoresPrimarysOwnPrepare(t *testing.T) {
	req := &RequestPayload{Op: []byte("x"), Timestamp: 1, Client: "alice"}
	d := RequestDigest(req)
	f := 1

	M := MessageSet{
		Message{Kind: KindPrePrepare, View: 0, Seq: 1, Sender: 0, Request: req},
		Message{Kind: KindPrepare, View: 0, Seq: 1, Digest: d, Sender: 0}, // primary's own prepare doesn't count
		Message{Kind: KindPrepare, View: 0, Seq: 1, Digest: d, Sender: 1},
	}
	assert.False(t, Prepared(M, req, 0, 1, 0, f))
}

func TestCommittedRequiresPinAndQuorum(t *testing.T) {
	req := &RequestPayload{Op: []byte("x"), Timestamp: 1, Client: "alice"}
	d := RequestDigest(req)
	f := 1
	primaryOf := func(View) ReplicaID { return 0 }

	pp := Message{Kind: KindPrePrepare, View: 0, Seq: 1, Sender: 0, Request: req}

	M := MessageSet{pp}
	assert.False(t, Committed(M, req, 0, 1, primaryOf, f))

	M = append(M,
		Message{Kind: KindCommit, View: 0, Seq: 1, Digest: d, Sender: 0},
		Message{Kind: KindCommit, View: 0, Seq: 1, Digest: d, Sender: 1},
	)
	assert.False(t, Committed(M, req, 0, 1, primaryOf, f), "2f+1=3, only 2 so far")

	M = append(M, Message{Kind: KindCommit, View: 0, Seq: 1, Digest: d, Sender: 2})
	assert.True(t, Committed(M, req, 0, 1, primaryOf, f))
}

func TestCommittedAcceptsRequestWithoutPrePrepareInSet(t *testing.T) {
	req := &RequestPayload{Op: []byte("x"), Timestamp: 1, Client: "alice"}
	d := RequestDigest(req)
	f := 1
	primaryOf := func(View) ReplicaID { return 0 }

	M := MessageSet{
		Message{Kind: KindRequest, Request: req},
		Message{Kind: KindCommit, View: 0, Seq: 1, Digest: d, Sender: 0},
		Message{Kind: KindCommit, View: 0, Seq: 1, Digest: d, Sender: 1},
		Message{Kind: KindCommit, View: 0, Seq: 1, Digest: d, Sender: 2},
	}
	assert.True(t, Committed(M, req, 0, 1, primaryOf, f))
}

func TestHasNewView(t *testing.T) {
	assert.True(t, HasNewView(nil, 0), "view 0 never needs a NEW-VIEW")
	assert.False(t, HasNewView(nil, 1))
	M := MessageSet{Message{Kind: KindNewView, View: 1}}
	assert.True(t, HasNewView(M, 1))
}
