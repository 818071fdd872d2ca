package pbft

import (
	"bytes"
	"encoding/hex"
	"sort"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// Digest is a fixed-width cryptographic hash, used as a request digest or
// a snapshot digest depending on which message field carries it.
type Digest [32]byte

// NullDigest is the digest of a gap-filling null PRE-PREPARE or any other
// "no request here" slot.
var NullDigest Digest

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// RequestDigest computes hash(m) for a REQUEST payload per spec.md §4.1:
// a SHA3-256 hash of the canonical encoding "op || "||" || t || "||" || c",
// with t rendered in a fixed two-decimal form so identical logical
// requests hash identically on every correct replica regardless of how t
// happened to be represented in memory. A nil payload (the gap-filling
// PRE-PREPARE case) hashes to NullDigest; non-REQUEST messages are never
// hashed, per spec.md §4.1.
func RequestDigest(r *RequestPayload) Digest {
	if r == nil {
		return NullDigest
	}
	var buf bytes.Buffer
	buf.Write(r.Op)
	buf.WriteString("||")
	buf.WriteString(formatTimestamp(r.Timestamp))
	buf.WriteString("||")
	buf.WriteString(string(r.Client))
	return sha3.Sum256(buf.Bytes())
}

func formatTimestamp(t Timestamp) string {
	return strconv.FormatFloat(float64(t), 'f', 2, 64)
}

// CanonicalSnapshot computes the checkpoint snapshot digest over
// (val, last_rep, last_rep_t) (spec.md §3 "Snapshot"). The reply cache's
// keys are sorted before hashing so two replicas holding the same
// logical reply set in a different insertion order still produce a
// byte-identical digest (spec.md §9, "checkpoint as sorted-items
// serialization").
func CanonicalSnapshot(val State, replies *ReplyCache) Digest {
	var buf bytes.Buffer
	buf.Write(val)
	buf.WriteString("||")

	clients := replies.Clients()
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	for _, c := range clients {
		reply, ts := replies.Get(c)
		buf.WriteString(string(c))
		buf.WriteByte(0)
		buf.Write(reply)
		buf.WriteByte(0)
		buf.WriteString(formatTimestamp(ts))
		buf.WriteByte(0)
	}
	return sha3.Sum256(buf.Bytes())
}
