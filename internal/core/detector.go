package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Detector polls each owner's mailbox on a fixed interval and dispatches new
// messages to the orchestrator. Exactly one poller may be active per owner;
// starting a second returns the existing state.
type Detector struct {
	mailbox  Mailbox
	orch     *Orchestrator
	audit    AuditStore
	logger   *zap.Logger
	interval time.Duration
	window   int

	mu      sync.Mutex
	pollers map[string]*poller
}

type poller struct {
	state  PollerState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDetector creates a new change detector
func NewDetector(
	mailbox Mailbox,
	orch *Orchestrator,
	audit AuditStore,
	logger *zap.Logger,
	interval time.Duration,
	window int,
) *Detector {
	return &Detector{
		mailbox:  mailbox,
		orch:     orch,
		audit:    audit,
		logger:   logger,
		interval: interval,
		window:   window,
		pollers:  make(map[string]*poller),
	}
}

// Start begins polling for an owner. If a poller is already active for the
// owner this is a no-op that returns the existing state.
func (d *Detector) Start(owner string) PollerState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pollers[owner]; ok {
		d.logger.Debug("Poller already active", zap.String("owner", owner))
		return p.state
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		state: PollerState{
			Owner:     owner,
			Active:    true,
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.pollers[owner] = p

	go d.run(ctx, owner, p)

	d.logger.Info("Started poller",
		zap.String("owner", owner),
		zap.Duration("interval", d.interval))
	return p.state
}

// Stop cancels an owner's poller. An in-flight tick is allowed to finish.
// Returns false when no poller was active.
func (d *Detector) Stop(owner string) bool {
	d.mu.Lock()
	p, ok := d.pollers[owner]
	if ok {
		delete(d.pollers, owner)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	p.cancel()
	<-p.done
	d.logger.Info("Stopped poller", zap.String("owner", owner))
	return true
}

// IsActive reports whether a poller is running for the owner
func (d *Detector) IsActive(owner string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pollers[owner]
	return ok
}

// Shutdown stops every active poller
func (d *Detector) Shutdown() {
	d.mu.Lock()
	owners := make([]string, 0, len(d.pollers))
	for owner := range d.pollers {
		owners = append(owners, owner)
	}
	d.mu.Unlock()

	for _, owner := range owners {
		d.Stop(owner)
	}
}

func (d *Detector) run(ctx context.Context, owner string, p *poller) {
	defer close(p.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick(ctx, owner, p)
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one poll cycle: compare the change marker, scan the recent
// window, dispatch unrecorded messages, then advance the stored marker.
// Failures are isolated per message; one bad item never halts the tick.
func (d *Detector) tick(ctx context.Context, owner string, p *poller) {
	marker, err := d.mailbox.ChangeMarker(ctx, owner)
	if err != nil {
		d.logger.Warn("Failed to read change marker",
			zap.String("owner", owner),
			zap.Error(err))
		return
	}

	// First tick after start only establishes the baseline.
	if p.state.LastMarker == "" {
		p.state.LastMarker = marker
		d.logger.Debug("Recorded baseline change marker",
			zap.String("owner", owner),
			zap.String("marker", marker))
		return
	}

	if marker == p.state.LastMarker {
		return
	}

	messages, err := d.mailbox.ListRecentMessages(ctx, owner, d.window)
	if err != nil {
		d.logger.Warn("Failed to list recent messages",
			zap.String("owner", owner),
			zap.Error(err))
		return
	}

	// Conversations first seen in this batch: a second message from the
	// same conversation later in the window upgrades to a conversation
	// re-evaluation instead of a duplicate single-message run.
	newInBatch := make(map[string]bool)
	// Conversations already re-evaluated this tick; at most one
	// conversation run per tick.
	reevaluated := make(map[string]bool)

	for _, msg := range messages {
		recorded, err := d.audit.HasMessage(ctx, owner, msg.ID)
		if err != nil {
			d.logger.Warn("Failed to check audit history",
				zap.String("owner", owner),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		if recorded {
			continue
		}

		convID := msg.ConversationID
		if reevaluated[convID] {
			continue
		}

		known, err := d.audit.HasConversation(ctx, owner, convID)
		if err != nil {
			d.logger.Warn("Failed to check conversation history",
				zap.String("owner", owner),
				zap.String("conversation_id", convID),
				zap.Error(err))
			continue
		}

		if known || newInBatch[convID] {
			if _, err := d.orch.ProcessConversation(ctx, owner, convID); err != nil {
				d.logger.Warn("Conversation processing failed",
					zap.String("owner", owner),
					zap.String("conversation_id", convID),
					zap.Error(err))
			}
			reevaluated[convID] = true
			continue
		}

		if _, err := d.orch.ProcessMessageWithRetry(ctx, owner, msg.ID); err != nil {
			d.logger.Warn("Message processing failed",
				zap.String("owner", owner),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
		newInBatch[convID] = true
	}

	// Advance even when some messages failed; per-item isolation already
	// logged them.
	p.state.LastMarker = marker
}
