package consensus

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/shardline-network/node/log"
	"github.com/shardline-network/node/p2p"
)

// maxConcurrentSends bounds how many outbound consensus sends can be
// in-flight across all four queues at once, so a burst on one queue
// cannot starve the others of network write capacity.
const maxConcurrentSends = 32

// Outbound runs the four dedicated workers of spec.md §4.7: one per
// consensus receive-queue, each prepending its tag and calling send_message
// (broadcast for the first three, direct for catch-up). Ordering is
// preserved per-queue; no ordering is promised across queues, matching
// "round-robin across queues" in the spec's ordering note.
type Outbound struct {
	bridge *Bridge
	sem    *semaphore.Weighted
	log    log.Logger
}

// NewOutbound builds the worker pool for bridge; call Run to start it.
func NewOutbound(bridge *Bridge) *Outbound {
	return &Outbound{
		bridge: bridge,
		sem:    semaphore.NewWeighted(maxConcurrentSends),
		log:    log.New("component", "consensus-outbound"),
	}
}

// Run launches the four workers and blocks until ctx is cancelled.
func (o *Outbound) Run(ctx context.Context) {
	blocks, finMsgs, finRecords, catchup := o.bridge.engine.Outbound()

	go o.drainBroadcast(ctx, blocks, p2p.TagConsensusBlock)
	go o.drainBroadcast(ctx, finMsgs, p2p.TagConsensusFinalization)
	go o.drainBroadcast(ctx, finRecords, p2p.TagConsensusFinalizationRecord)
	go o.drainCatchup(ctx, catchup)

	<-ctx.Done()
}

func (o *Outbound) drainBroadcast(ctx context.Context, queue <-chan []byte, tag p2p.ConsensusTag) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-queue:
			if !ok {
				return
			}
			if err := o.sem.Acquire(ctx, 1); err != nil {
				return
			}
			o.bridge.sender.Broadcast(o.bridge.network, p2p.EncodeConsensusTag(tag, item))
			o.sem.Release(1)
		}
	}
}

func (o *Outbound) drainCatchup(ctx context.Context, queue <-chan CatchupRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-queue:
			if !ok {
				return
			}
			if err := o.sem.Acquire(ctx, 1); err != nil {
				return
			}
			if err := o.bridge.sendTagged(req.Peer, req.Tag, req.Payload); err != nil {
				o.log.Debug("catch-up send failed", "peer", req.Peer, "err", err)
			}
			o.sem.Release(1)
		}
	}
}
