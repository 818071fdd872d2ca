package pbft

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cerera/pbft/config"
)

// SlotKey identifies a (view, sequence) slot.
type SlotKey struct {
	View View
	Seq  SeqNo
}

// Replica is the per-node pBFT state machine spec.md describes end to
// end: ingestion and emission of the eight message kinds, the prepared/
// committed predicates, the sliding execution window, checkpointing, and
// view change. It owns all of its state exclusively; spec.md §5 requires
// exactly one route_receive call in flight at a time, so the replica's own
// lock only protects against the transport dispatching into it from
// multiple goroutines -- it is not a general-purpose concurrency story.
type Replica struct {
	mu sync.Mutex

	i ReplicaID
	r int
	f int

	view View
	log  *MsgLog
	out   []Message

	val     State
	replies *ReplyCache

	seqno    SeqNo
	lastExec SeqNo

	checkpoints  map[SeqNo]Digest
	lowWatermark SeqNo

	maxOut   int
	chkptInt int

	// slotBindings is the mnv_store side table from
	// original_source/pybft/replica.py: the request bound to a (v,n) slot,
	// kept available after the underlying log entries are GC'd.
	slotBindings map[SlotKey]*RequestPayload

	signer Signer
	app    Application

	logger  *zap.SugaredLogger
	metrics *Metrics

	halted    bool
	haltCause error
}

// NewReplica constructs a replica per cfg, seeding the genesis checkpoint
// and the R synthetic CHECKPOINT(0,0,snapshot0,k) messages (one per peer)
// that make it instantly quorum-stable, per spec.md §3 "Lifecycle".
func NewReplica(cfg config.Config, app Application, signer Signer, logger *zap.SugaredLogger, metrics *Metrics) (*Replica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if app == nil {
		app = IdentityApplication{}
	}
	if signer == nil {
		signer = AlwaysValidSigner{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := &Replica{
		i:            ReplicaID(cfg.I),
		r:            cfg.R,
		f:            cfg.F(),
		log:          NewMsgLog(),
		val:          State{},
		replies:      NewReplyCache(DefaultReplyCacheSize),
		checkpoints:  make(map[SeqNo]Digest),
		maxOut:       cfg.MaxOut,
		chkptInt:     cfg.ChkptInt,
		slotBindings: make(map[SlotKey]*RequestPayload),
		signer:       signer,
		app:          app,
		logger:       logger,
		metrics:      metrics,
	}
	r.seedGenesisCheckpoint()
	return r, nil
}

// I returns this replica's index.
func (r *Replica) I() ReplicaID { return r.i }

// View returns the current view.
func (r *Replica) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// LastExec returns the highest executed sequence number.
func (r *Replica) LastExec() SeqNo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastExec
}

// StableSeq returns stable_n, the sequence of the newest stable checkpoint
// (the low watermark).
func (r *Replica) StableSeq() SeqNo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lowWatermark
}

// Halted reports whether an InvariantViolation has stopped this replica
// from accepting further input, and the cause if so.
func (r *Replica) Halted() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted, r.haltCause
}

// DrainOut empties and returns the pending outbound messages, per spec.md
// §6: "out is a set drained by the transport; each drain empties the set."
func (r *Replica) DrainOut() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.out
	r.out = nil
	return out
}

func (r *Replica) emit(m Message) {
	r.out = append(r.out, m)
}

func (r *Replica) halt(cause error) {
	r.halted = true
	r.haltCause = cause
	r.logger.Errorw("replica halted on invariant violation", "error", cause)
}

// primary returns primary(v) = v mod R.
func (r *Replica) primary(v View) ReplicaID {
	return ReplicaID(uint64(v) % uint64(r.r))
}

// inW is the window predicate in_w(n) = 0 < n - stable_n < max_out.
func (r *Replica) inW(n SeqNo) bool {
	if n <= r.lowWatermark {
		return false
	}
	return n-r.lowWatermark < SeqNo(r.maxOut)
}

// inWV is in_wv(v,n) = view == v && in_w(n).
func (r *Replica) inWV(v View, n SeqNo) bool {
	return r.view == v && r.inW(n)
}

func (r *Replica) bindSlot(v View, n SeqNo, req *RequestPayload) {
	r.slotBindings[SlotKey{View: v, Seq: n}] = req
}

// BoundRequest returns the request this replica has ever bound to slot
// (v,n) via the mnv_store-equivalent side table, even if the underlying
// PRE-PREPARE has since been garbage-collected from the log. Safe to call
// from outside the replica (e.g. tests, the transport); internal code
// already holding r.mu must use boundRequestLocked instead.
func (r *Replica) BoundRequest(v View, n SeqNo) (*RequestPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boundRequestLocked(v, n)
}

func (r *Replica) boundRequestLocked(v View, n SeqNo) (*RequestPayload, bool) {
	req, ok := r.slotBindings[SlotKey{View: v, Seq: n}]
	return req, ok
}

func (r *Replica) seedGenesisCheckpoint() {
	snap := CanonicalSnapshot(r.val, r.replies)
	r.checkpoints[0] = snap
	r.lowWatermark = 0
	for k := 0; k < r.r; k++ {
		r.log.Add(Message{Kind: KindCheckpoint, View: 0, Seq: 0, Digest: snap, Sender: ReplicaID(k)})
	}
	r.metrics.setStableCheckpoint(0)
}

// String is a compact debug summary, handy in tests and the pbftctl REPL.
func (r *Replica) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("replica[%d] view=%d seqno=%d lastExec=%d stableN=%d halted=%v",
		r.i, r.view, r.seqno, r.lastExec, r.lowWatermark, r.halted)
}

func sortedSeq(ns map[SeqNo]struct{}) []SeqNo {
	out := make([]SeqNo, 0, len(ns))
	for n := range ns {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
