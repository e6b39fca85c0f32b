// Package ledger is the negotiation service: it owns identifiers, locking,
// persistence, admission policy and settlement around the pure engine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tome-gg/negotiation-protocols/pkg/archive"
	"github.com/tome-gg/negotiation-protocols/pkg/lock"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
	"github.com/tome-gg/negotiation-protocols/pkg/observability"
	"github.com/tome-gg/negotiation-protocols/pkg/policy"
	"github.com/tome-gg/negotiation-protocols/pkg/store"
)

// Service coordinates negotiations.
type Service struct {
	store    store.Store
	locker   lock.Locker
	policy   *policy.Evaluator
	archive  archive.Archive
	obs      *observability.Provider
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string
	lockWait time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the in-process locker.
func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locker = l } }

// WithPolicy installs admission rules.
func WithPolicy(p *policy.Evaluator) Option { return func(s *Service) { s.policy = p } }

// WithArchive enables settlement archiving.
func WithArchive(a archive.Archive) Option { return func(s *Service) { s.archive = a } }

// WithObservability installs a telemetry provider.
func WithObservability(p *observability.Provider) Option { return func(s *Service) { s.obs = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

// WithIDGenerator sets the negotiation id generator.
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithLockWait bounds how long Propose waits for the record lock.
func WithLockWait(d time.Duration) Option { return func(s *Service) { s.lockWait = d } }

// New creates a Service on st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		locker:   lock.NewLocalLocker(),
		clock:    time.Now,
		newID:    uuid.NewString,
		lockWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "ledger")
	if s.obs == nil {
		s.obs, _ = observability.New(context.Background(), &observability.Config{})
	}
	return s
}

// Result is the outcome of an applied proposal.
type Result struct {
	Entry      store.Entry      `json:"entry"`
	Transition store.Transition `json:"transition"`
	// Settlement is the archive digest of the settlement document when this
	// proposal completed the negotiation and archiving succeeded.
	Settlement string `json:"settlement,omitempty"`
}

// Setup opens a negotiation between initiator and counterparty.
func (s *Service) Setup(ctx context.Context, initiator, counterparty negotiation.Identity) (entry store.Entry, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.setup")
	defer func() { finish(err) }()

	rec, err := negotiation.Setup(initiator, counterparty)
	if err != nil {
		return store.Entry{}, err
	}
	hash, err := store.RecordHash(rec)
	if err != nil {
		return store.Entry{}, err
	}
	now := s.clock()
	entry = store.Entry{
		ID:         s.newID(),
		Record:     rec,
		RecordHash: hash,
		HeadHash:   store.GenesisHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, entry); err != nil {
		return store.Entry{}, fmt.Errorf("create negotiation %s: %w", entry.ID, err)
	}
	s.logger.InfoContext(ctx, "negotiation opened",
		"negotiation_id", entry.ID,
		"initiator", initiator.Short(),
		"counterparty", counterparty.Short(),
	)
	return entry, nil
}

// Propose applies one proposal by caller to negotiation id. When
// expectedTurn is non-nil the call fails with store.ErrConflict unless the
// negotiation is still at that turn. Conflicts are not retried.
func (s *Service) Propose(ctx context.Context, id string, caller negotiation.Identity, p negotiation.Proposal, expectedTurn *uint64) (res Result, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.propose", attribute.String("negotiation.id", id))
	defer func() {
		outcome := "applied"
		if err != nil {
			outcome = ErrorCode(err)
		}
		s.obs.RecordProposal(ctx, outcome)
		finish(err)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	unlock, err := s.locker.Lock(lockCtx, id)
	cancel()
	if errors.Is(err, lock.ErrNotAcquired) {
		return Result{}, fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	defer unlock()

	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	prev := entry.Record
	if expectedTurn != nil && *expectedTurn != prev.Turn {
		return Result{}, fmt.Errorf("%w: negotiation is at turn %d, caller expected %d", store.ErrConflict, prev.Turn, *expectedTurn)
	}

	next, err := negotiation.Propose(prev, caller, p)
	if err != nil {
		s.logger.InfoContext(ctx, "proposal rejected",
			"negotiation_id", id,
			"turn", prev.Turn,
			"caller", caller.Short(),
			"code", ErrorCode(err),
			"error", err,
		)
		return Result{}, err
	}
	party := prev.PartyOf(caller)
	if err := s.policy.Admit(ctx, prev, party, p); err != nil {
		s.logger.WarnContext(ctx, "proposal denied by policy", "negotiation_id", id, "turn", prev.Turn, "error", err)
		return Result{}, err
	}

	sealed, err := s.store.Commit(ctx, id, prev.Turn, next, store.Transition{
		Turn:      prev.Turn,
		Caller:    caller,
		Party:     party,
		Proposal:  p,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("commit negotiation %s turn %d: %w", id, prev.Turn, err)
	}

	entry.Record = next
	entry.RecordHash = sealed.RecordHash
	entry.HeadHash = sealed.Hash
	entry.UpdatedAt = sealed.CreatedAt
	res = Result{Entry: entry, Transition: sealed}

	s.logProgress(ctx, id, party, prev, next, p)

	if next.Complete {
		s.obs.RecordSettlement(ctx)
		res.Settlement = s.settle(ctx, entry)
	}
	return res, nil
}

// logProgress emits one line per accepted turn and one per element whose
// maturity moved.
func (s *Service) logProgress(ctx context.Context, id string, party negotiation.Party, prev, next negotiation.Record, p negotiation.Proposal) {
	events, _ := negotiation.Decode(p.Events)
	s.logger.InfoContext(ctx, "proposal applied",
		"negotiation_id", id,
		"turn", prev.Turn,
		"party", party.String(),
		"events", events.String(),
		"complete", next.Complete,
	)
	for _, e := range negotiation.Elements {
		before, after := prev.Element(e), next.Element(e)
		if before.Maturity == after.Maturity {
			continue
		}
		s.logger.DebugContext(ctx, "element advanced",
			"negotiation_id", id,
			"element", e.String(),
			"from", before.Maturity.String(),
			"to", after.Maturity.String(),
			"value", after.Value.Display(e),
		)
	}
}

// settle archives the settlement document. Failures are logged, not returned:
// the negotiation is already committed.
func (s *Service) settle(ctx context.Context, entry store.Entry) string {
	s.logger.InfoContext(ctx, "negotiation settled", "negotiation_id", entry.ID, "turns", entry.Record.Turn-1)
	if s.archive == nil {
		return ""
	}
	doc, err := archive.NewSettlement(entry.ID, entry.Record, entry.RecordHash, entry.HeadHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement build failed", "negotiation_id", entry.ID, "error", err)
		return ""
	}
	digest, err := archive.Publish(ctx, s.archive, doc)
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement archive failed", "negotiation_id", entry.ID, "error", err)
		return ""
	}
	s.logger.InfoContext(ctx, "settlement archived", "negotiation_id", entry.ID, "digest", digest)
	return digest
}

// Get returns the stored negotiation.
func (s *Service) Get(ctx context.Context, id string) (store.Entry, error) {
	return s.store.Get(ctx, id)
}

// Transitions returns the receipts of a negotiation in turn order.
func (s *Service) Transitions(ctx context.Context, id string) ([]store.Transition, error) {
	return s.store.Transitions(ctx, id)
}

// List returns the negotiations id is a party to. A zero id lists all.
func (s *Service) List(ctx context.Context, party negotiation.Identity) ([]store.Entry, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if party.IsZero() {
		return all, nil
	}
	out := make([]store.Entry, 0, len(all))
	for _, e := range all {
		if e.Record.PartyOf(party) != 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// Verify checks a negotiation's integrity: the receipt chain must link to
// the stored head and replaying every receipt through the engine must
// reproduce the stored record.
func (s *Service) Verify(ctx context.Context, id string) (err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.verify", attribute.String("negotiation.id", id))
	defer func() { finish(err) }()

	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ts, err := s.store.Transitions(ctx, id)
	if err != nil {
		return err
	}
	if err := store.VerifyChain(ts, entry.HeadHash); err != nil {
		return err
	}

	rec, err := negotiation.Setup(entry.Record.Initiator(), entry.Record.Counterparty())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReplayMismatch, err)
	}
	for _, t := range ts {
		if rec, err = negotiation.Propose(rec, t.Caller, t.Proposal); err != nil {
			return fmt.Errorf("%w: turn %d: %v", ErrReplayMismatch, t.Turn, err)
		}
		h, err := store.RecordHash(rec)
		if err != nil {
			return err
		}
		if h != t.RecordHash {
			return fmt.Errorf("%w: turn %d", ErrReplayMismatch, t.Turn)
		}
	}
	final, err := store.RecordHash(rec)
	if err != nil {
		return err
	}
	if final != entry.RecordHash {
		return fmt.Errorf("%w: final record", ErrReplayMismatch)
	}
	return nil
}
