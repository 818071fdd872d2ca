package pbft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerera/pbft/config"
)

func newCheckpointTestReplica(t *testing.T) *Replica {
	t.Helper()
	cfg := config.Config{R: 4, I: 0, MaxOut: 20, ChkptInt: 5}
	rep, err := NewReplica(cfg, IdentityApplication{}, AlwaysValidSigner{}, nil, nil)
	require.NoError(t, err)
	return rep
}

func TestGenesisCheckpointIsImmediatelyStable(t *testing.T) {
	rep := newCheckpointTestReplica(t)
	assert.Equal(t, SeqNo(0), rep.StableSeq())
	assert.Equal(t, 4, rep.checkpointQuorumCount(0, rep.checkpoints[0]))
}

func TestTryStabilizeRequiresQuorum(t *testing.T) {
	rep := newCheckpointTestReplica(t)
	rep.mu.Lock()
	defer rep.mu.Unlock()

	var snap Digest
	snap[0] = 0xAB

	rep.log.Add(Message{Kind: KindCheckpoint, Seq: 5, Digest: snap, Sender: 1})
	rep.log.Add(Message{Kind: KindCheckpoint, Seq: 5, Digest: snap, Sender: 2})
	assert.False(t, rep.tryStabilize(5, snap), "2f+1=3 needed, only 2 distinct senders present")

	rep.log.Add(Message{Kind: KindCheckpoint, Seq: 5, Digest: snap, Sender: 3})
	assert.True(t, rep.tryStabilize(5, snap))
	assert.Equal(t, SeqNo(5), rep.lowWatermark)
}

func TestTryStabilizeIgnoresStaleCandidates(t *testing.T) {
	rep := newCheckpointTestReplica(t)
	rep.mu.Lock()
	defer rep.mu.Unlock()

	rep.lowWatermark = 10
	assert.False(t, rep.tryStabilize(5, Digest{}), "candidate at or below the current watermark can't stabilize")
}

func TestTryStabilizePrunesLogBelowThreshold(t *testing.T) {
	rep := newCheckpointTestReplica(t)
	rep.mu.Lock()
	defer rep.mu.Unlock()

	stale := Message{Kind: KindPrepare, View: 0, Seq: 1, Sender: 1}
	rep.log.Add(stale)

	var snap Digest
	snap[0] = 0xCD
	for s := ReplicaID(0); s < 3; s++ {
		rep.log.Add(Message{Kind: KindCheckpoint, Seq: 6, Digest: snap, Sender: s})
	}
	require.True(t, rep.tryStabilize(6, snap))

	assert.False(t, rep.log.Contains(stale), "prepare below the new GC threshold must be pruned")
}
