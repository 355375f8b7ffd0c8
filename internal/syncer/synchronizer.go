package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"mail-ingestor/internal/emailprocessor"
	imapclient "mail-ingestor/internal/imap"
	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/metrics"
	"mail-ingestor/internal/models"
)

const DefaultBatchSize = 50

// State is a step of one account's synchronization
type State int

const (
	StateConnecting State = iota
	StateListing
	StateDiffing
	StateFetchingBatch
	StateDone
	StateAborted
)

func (s State) String() string {
	return [...]string{"connecting", "listing", "diffing", "fetching_batch", "done", "aborted"}[s]
}

// KnownIDs reads the remote ids already persisted for an account
type KnownIDs interface {
	KnownRemoteIDs(ctx context.Context, account string) (map[string]struct{}, error)
}

// Normalizer turns a raw message into a persisted record
type Normalizer interface {
	Normalize(ctx context.Context, account models.Account, raw []byte, remoteID string) (*models.NormalizedMessage, error)
}

// Options tunes a Synchronizer. Zero values select the defaults.
type Options struct {
	BatchSize        int
	FetchTimeout     time.Duration // per network step; 0 disables the extra deadline
	FetchesPerSecond float64       // 0 disables pacing
}

type Synchronizer struct {
	dialer     imapclient.Dialer
	known      KnownIDs
	normalizer Normalizer
	opts       Options
}

// NewSynchronizer creates a Synchronizer opening sessions with dialer
func NewSynchronizer(dialer imapclient.Dialer, known KnownIDs, normalizer Normalizer, opts Options) *Synchronizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Synchronizer{
		dialer:     dialer,
		known:      known,
		normalizer: normalizer,
		opts:       opts,
	}
}

// accountRun holds the per-account state of one Run call
type accountRun struct {
	*Synchronizer
	account models.Account
	client  imapclient.Client
	emit    func(models.SyncEvent)
	log     *logrus.Entry
	closed  bool
}

// Run drives account from Connecting to a terminal state, calling emit for every event.
// Once ctx is cancelled no further events are emitted and StateAborted is returned.
func (s *Synchronizer) Run(ctx context.Context, runID string, account models.Account, emit func(models.SyncEvent)) State {
	start := time.Now()
	defer func() { metrics.AccountSyncDuration.Observe(time.Since(start).Seconds()) }()

	r := &accountRun{
		Synchronizer: s,
		account:      account,
		client:       s.dialer.NewClient(),
		emit:         emit,
		log:          logging.Log.WithFields(logrus.Fields{"run_id": runID, "account": account.Email}),
	}

	state := StateConnecting
	var newIDs []string
	for {
		r.log.Debugf("State %s", state)

		var err error
		switch state {
		case StateConnecting:
			if err = r.connect(ctx); err == nil {
				defer r.close()
				state = StateListing
			}
		case StateListing:
			var remote []string
			if remote, err = r.list(ctx); err == nil {
				newIDs = remote
				state = StateDiffing
			}
		case StateDiffing:
			if newIDs, err = r.diff(ctx, newIDs); err == nil {
				state = StateFetchingBatch
				if len(newIDs) == 0 {
					r.log.Info("No new messages")
					state = StateDone
				}
			}
		case StateFetchingBatch:
			if err = r.fetchAll(ctx, newIDs); err == nil {
				state = StateDone
			}
		case StateDone:
			if ctx.Err() != nil {
				return r.abort(ctx, ctx.Err())
			}
			r.close()
			r.emit(models.AccountComplete(account.Email, len(newIDs)))
			return StateDone
		}

		if err != nil {
			return r.abort(ctx, err)
		}
	}
}

func (r *accountRun) abort(ctx context.Context, err error) State {
	if ctx.Err() != nil {
		r.log.Infof("Sync cancelled: %v", ctx.Err())
		return StateAborted
	}

	kind := "unknown"
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		kind = syncErr.Kind.String()
	}
	metrics.AccountAborts.WithLabelValues(r.account.Email, kind).Inc()

	r.log.Errorf("Sync aborted: %v", err)
	r.emit(models.ErrorEvent(r.account.Email, "", err.Error()))
	return StateAborted
}

// stepContext bounds one network step by the configured fetch timeout
func (r *accountRun) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.FetchTimeout)
}

func (r *accountRun) connect(ctx context.Context) error {
	fail := func(err error) error {
		return &SyncError{Kind: ConnectionFailure, Account: r.account.Email, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	endpoint := r.account.Endpoint()
	r.log.Infof("Connecting to %s", endpoint)
	if err := r.client.Connect(ctx, endpoint); err != nil {
		return fail(err)
	}
	if err := r.client.Login(r.account.Email, r.account.Password); err != nil {
		_ = r.client.Close()
		return fail(fmt.Errorf("login: %w", err))
	}
	return nil
}

func (r *accountRun) close() {
	if r.closed {
		return
	}
	r.closed = true
	if err := r.client.Close(); err != nil {
		r.log.Warnf("Error closing IMAP session: %v", err)
	}
}

func (r *accountRun) list(ctx context.Context) ([]string, error) {
	fail := func(err error) error {
		return &SyncError{Kind: ListingFailure, Account: r.account.Email, Err: err}
	}

	if err := r.client.SelectMailbox(r.account.MailboxName()); err != nil {
		return nil, fail(fmt.Errorf("select %s: %w", r.account.MailboxName(), err))
	}

	stepCtx, cancel := r.stepContext(ctx)
	defer cancel()

	ids, err := r.client.ListAllUIDs(stepCtx)
	if err != nil {
		return nil, fail(err)
	}
	r.log.Infof("Found %d remote message(s)", len(ids))
	return ids, nil
}

func (r *accountRun) diff(ctx context.Context, remote []string) ([]string, error) {
	known, err := r.known.KnownRemoteIDs(ctx, r.account.Email)
	if err != nil {
		return nil, &SyncError{Kind: PersistenceFailure, Account: r.account.Email, Err: err}
	}

	seen := make(map[string]struct{}, len(remote))
	newIDs := xslices.Filter(remote, func(id string) bool {
		if _, ok := known[id]; ok {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
		return true
	})
	r.log.Infof("%d new message(s) to fetch", len(newIDs))
	return newIDs, nil
}

func (r *accountRun) fetchAll(ctx context.Context, ids []string) error {
	var limiter *rate.Limiter
	if r.opts.FetchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.opts.FetchesPerSecond), r.opts.BatchSize)
	}

	total := len(ids)
	processed := 0
	for _, batch := range xslices.Chunk(ids, r.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(batch)); err != nil {
				return err
			}
		}

		raws, err := r.fetchBatch(ctx, batch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			r.log.Warnf("Batch fetch of %d message(s) failed: %v", len(batch), err)
		}

		for _, id := range batch {
			processed++
			if ctx.Err() != nil {
				return ctx.Err()
			}

			raw, ok := raws[id]
			if !ok {
				cause := err
				if cause == nil {
					cause = errors.New("message not returned by server")
				}
				r.messageError(&SyncError{Kind: FetchFailure, Account: r.account.Email, RemoteID: id, Err: cause})
				metrics.FetchFailures.WithLabelValues(r.account.Email).Inc()
				continue
			}

			msg, nerr := r.normalizer.Normalize(ctx, r.account, raw, id)
			switch {
			case errors.Is(nerr, emailprocessor.ErrAlreadyKnown):
				r.log.WithField("remote_id", id).Debug("Message already known, skipping")
			case nerr != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.messageError(&SyncError{Kind: PersistenceFailure, Account: r.account.Email, RemoteID: id, Err: nerr})
			default:
				metrics.MessagesIngested.WithLabelValues(r.account.Email).Inc()
				r.emit(models.Progress(r.account.Email, processed, total, msg))
			}
		}
	}
	return nil
}

func (r *accountRun) fetchBatch(ctx context.Context, batch []string) (map[string][]byte, error) {
	stepCtx, cancel := r.stepContext(ctx)
	defer cancel()
	return r.client.FetchBatch(stepCtx, batch)
}

func (r *accountRun) messageError(err *SyncError) {
	r.log.WithField("remote_id", err.RemoteID).Errorf("Message skipped: %v", err)
	r.emit(models.ErrorEvent(r.account.Email, err.RemoteID, err.Error()))
}
