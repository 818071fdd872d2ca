// Package cluster wires several in-process pbft.Replica values together
// over a direct in-memory broadcast, standing in for the network
// collaborator spec.md places out of scope (spec.md §1, §6: "the
// transport is an external collaborator"). It exists so cmd/pbftnode and
// cmd/pbftctl share one local-cluster wiring instead of each
// reimplementing it.
package cluster

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cerera/pbft/config"
	"github.com/cerera/pbft/pbft"
)

// Cluster runs config.R replicas in this process and broadcasts every
// emitted message to every replica, synchronously, until a full
// round produces nothing new. There is no network latency or partition
// simulation here; it demonstrates the protocol's message flow, not a
// deployment topology.
type Cluster struct {
	replicas []*pbft.Replica
	replies  []pbft.Message
}

// New constructs a Cluster of cfg.R replicas sharing one Application and
// Signer, each with its own instance-scoped Metrics registered under a
// "replica" label.
func New(cfg config.Config, app pbft.Application, signer pbft.Signer, reg prometheus.Registerer, log *zap.Logger) (*Cluster, error) {
	c := &Cluster{replicas: make([]*pbft.Replica, cfg.R)}
	for i := 0; i < cfg.R; i++ {
		rc := cfg
		rc.I = i
		if err := rc.Validate(); err != nil {
			return nil, fmt.Errorf("cluster: replica %d: %w", i, err)
		}
		metrics := pbft.NewMetrics(reg, fmt.Sprintf("%d", i))
		var sugar *zap.SugaredLogger
		if log != nil {
			sugar = log.Named(fmt.Sprintf("replica-%d", i)).Sugar()
		}
		rep, err := pbft.NewReplica(rc, app, signer, sugar, metrics)
		if err != nil {
			return nil, fmt.Errorf("cluster: replica %d: %w", i, err)
		}
		c.replicas[i] = rep
	}
	return c, nil
}

// Replicas returns the cluster's member replicas, for inspection.
func (c *Cluster) Replicas() []*pbft.Replica { return c.replicas }

// Submit injects a client REQUEST at replica 0 (an arbitrary entry point;
// any replica forwards it to the current primary) and pumps the cluster
// to quiescence, returning every REPLY observed.
func (c *Cluster) Submit(op []byte, client string, ts float64) ([]pbft.Message, error) {
	r := pbft.Message{
		Kind: pbft.KindRequest,
		Request: &pbft.RequestPayload{
			Op:        op,
			Timestamp: pbft.Timestamp(ts),
			Client:    pbft.ClientID(client),
		},
	}
	if _, err := c.replicas[0].Receive(r); err != nil {
		return nil, err
	}
	return c.pump(c.replicas[0].DrainOut()), nil
}

// ForceViewChange makes every replica issue its own VIEW-CHANGE and pumps
// the cluster until a NEW-VIEW is installed (or the pump gives up).
func (c *Cluster) ForceViewChange() error {
	var seed []pbft.Message
	for _, rep := range c.replicas {
		msgs, err := rep.TriggerViewChange()
		if err != nil {
			return err
		}
		seed = append(seed, msgs...)
	}
	c.pump(seed)
	return nil
}

// pump broadcasts msgs to every replica, sender included (a replica drops
// messages carrying its own sender id), collecting and
// re-broadcasting whatever they in turn emit, until a full round is
// silent. It caps at a generous number of rounds so a cluster that can
// never reach quiescence (e.g. too few live replicas) doesn't loop
// forever.
func (c *Cluster) pump(seed []pbft.Message) []pbft.Message {
	var replies []pbft.Message
	msgs := seed
	for round := 0; round < 64 && len(msgs) > 0; round++ {
		var next []pbft.Message
		for _, m := range msgs {
			if m.Kind == pbft.KindReply {
				replies = append(replies, m)
				continue
			}
			for _, rep := range c.replicas {
				if _, err := rep.Receive(m); err != nil {
					continue
				}
				next = append(next, rep.DrainOut()...)
			}
		}
		msgs = next
	}
	return replies
}
