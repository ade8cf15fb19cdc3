package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/selector"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const maxSelectTries = 3

type DispatchConfig struct {
	// SecretKey decrypts social account access tokens.
	SecretKey      []byte
	PublishTimeout time.Duration
}

// DispatchService runs one delivery of an entry's job: it selects media,
// builds the payload and calls the publisher. It implements queue.Dispatcher.
type DispatchService struct {
	entries   repository.EntryRepository
	assets    repository.MediaAssetRepository
	accounts  repository.SocialAccountRepository
	publisher Publisher
	cfg       DispatchConfig
	rng       selector.Rand
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

var _ queue.Dispatcher = (*DispatchService)(nil)

// NewDispatchService wires a dispatcher. A nil rng uses the global source.
func NewDispatchService(
	er repository.EntryRepository,
	mr repository.MediaAssetRepository,
	ar repository.SocialAccountRepository,
	publisher Publisher,
	cfg DispatchConfig,
	rng selector.Rand,
	m *metrics.Metrics,
	logger *slog.Logger) *DispatchService {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	return &DispatchService{
		entries:   er,
		assets:    mr,
		accounts:  ar,
		publisher: publisher,
		cfg:       cfg,
		rng:       rng,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
}

func (s *DispatchService) Dispatch(ctx context.Context, entryID int64, attempt queue.Attempt) error {
	log := s.logger.With("entry_id", entryID, "attempt", attempt.Number, "max_attempts", attempt.Max)

	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		err = apperr.Transient(err, "load entry")
		if !attempt.Last() {
			log.Warn("failed to load entry", "error", err)
			return err
		}
		// The broker gives up after this; resync only looks ahead of now.
		if uerr := s.entries.UpdateStatus(context.WithoutCancel(ctx), entryID, models.EntryStatusFailed, err.Error()); uerr != nil {
			log.Warn("failed to mark entry failed", "error", uerr)
		}
		s.metrics.Dispatches.WithLabelValues("failed").Inc()
		log.Error("entry failed, needs manual review", "error", err)
		return err
	}
	if entry == nil {
		s.metrics.Dispatches.WithLabelValues("not_found").Inc()
		log.Warn("entry no longer exists, dropping job")
		return apperr.NotFound("entry %d", entryID)
	}
	if entry.Terminal() {
		s.metrics.Dispatches.WithLabelValues("skipped").Inc()
		log.Info("entry is not pending, skipping", "status", entry.Status)
		return nil
	}

	log = log.With("run_id", attempt.RunID)
	payload, err := s.prepare(ctx, log, entry, attempt)
	if err != nil {
		return s.fail(ctx, log, entry, attempt, err)
	}

	if err := s.publish(ctx, payload); err != nil {
		return s.fail(ctx, log, entry, attempt, err)
	}

	// The post is out. Reporting an error now would publish it again.
	if err := s.entries.UpdateStatus(context.WithoutCancel(ctx), entry.ID, models.EntryStatusExecuted, ""); err != nil {
		s.metrics.Dispatches.WithLabelValues("executed_unrecorded").Inc()
		log.Error("published but failed to mark entry executed", "dispatch_id", payload.DispatchID, "error", err)
		return nil
	}

	s.metrics.Dispatches.WithLabelValues("executed").Inc()
	log.Info("entry published", "dispatch_id", payload.DispatchID, "media_url", payload.Media.URL)
	return nil
}

func (s *DispatchService) prepare(ctx context.Context, log *slog.Logger, entry *models.SchedulingEntry, attempt queue.Attempt) (*transfer.PublishPayload, error) {
	account, err := s.accounts.GetByID(ctx, entry.AccountID)
	if err != nil {
		return nil, apperr.Transient(err, "load social account")
	}
	if account == nil {
		return nil, apperr.NotFound("social account %d", entry.AccountID)
	}

	token, err := utils.Decrypt(account.AccessToken, s.cfg.SecretKey)
	if err != nil {
		return nil, apperr.Validation("access token of account %d cannot be decrypted: %v", account.ID, err)
	}

	// Every attempt of one run shares the key so the endpoint can drop repeats.
	dispatchID := attempt.RunID
	if dispatchID == "" {
		dispatchID = fmt.Sprintf("entry-%d-%d", entry.ID, entry.TargetTime.Unix())
	}

	// Selection goes last: under rotation it spends the asset's turn.
	asset, err := s.selectAsset(ctx, log, entry)
	if err != nil {
		return nil, err
	}

	return &transfer.PublishPayload{
		DispatchID: dispatchID,
		EntryID:    entry.ID,
		OwnerID:    entry.OwnerID,
		Attempt:    attempt.Number,
		Account: transfer.PublishAccount{
			ID:          account.ID,
			Platform:    account.Platform,
			AccountID:   account.AccountID,
			Username:    account.AccountUsername,
			AccessToken: token,
		},
		Caption: entry.Caption,
		Media: transfer.PublishMedia{
			URL:          asset.URL,
			MimeType:     asset.MimeType,
			ThumbnailURL: asset.ThumbnailURL,
		},
		PlatformFlags:    entry.PlatformFlags,
		DistributionMode: entry.DistributionMode,
		TokenExpired:     account.TokenExpired(s.now()),
	}, nil
}

// selectAsset picks the asset for this run and commits the rotation counter.
// A lost compare-and-swap reloads the assets and selects again.
func (s *DispatchService) selectAsset(ctx context.Context, log *slog.Logger, entry *models.SchedulingEntry) (*models.MediaAsset, error) {
	for try := 1; try <= maxSelectTries; try++ {
		assets, err := s.assets.ListByEntryID(ctx, entry.ID)
		if err != nil {
			return nil, apperr.Transient(err, "load media assets")
		}

		sel, err := selector.Select(entry.DistributionMode, assets, s.rng)
		if err != nil {
			return nil, err
		}
		if sel.Mutation == nil {
			return sel.Asset, nil
		}

		ok, err := s.assets.IncrementUsage(ctx, sel.Mutation.AssetID, sel.Mutation.ExpectedVersion)
		if err != nil {
			return nil, apperr.Transient(err, "increment usage counter")
		}
		if ok {
			return sel.Asset, nil
		}

		s.metrics.CounterConflicts.Inc()
		log.Debug("usage counter moved underneath selection", "asset_id", sel.Mutation.AssetID, "try", try)
	}

	return nil, apperr.Transient(
		apperr.Conflict("usage counters of entry %d kept changing", entry.ID),
		fmt.Sprintf("select asset after %d tries", maxSelectTries),
	)
}

func (s *DispatchService) publish(ctx context.Context, payload *transfer.PublishPayload) error {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := s.publisher.Publish(pctx, payload)
	s.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	return err
}

// fail records err on the entry. Terminal failures and the last attempt mark
// the entry failed; anything else is left for the broker to retry.
func (s *DispatchService) fail(ctx context.Context, log *slog.Logger, entry *models.SchedulingEntry, attempt queue.Attempt, err error) error {
	bctx := context.WithoutCancel(ctx)
	msg := err.Error()

	if rerr := s.entries.RecordAttempt(bctx, entry.ID, attempt.Number, msg); rerr != nil {
		log.Warn("failed to record attempt", "error", rerr)
	}

	if !apperr.Retryable(err) || attempt.Last() {
		if uerr := s.entries.UpdateStatus(bctx, entry.ID, models.EntryStatusFailed, msg); uerr != nil {
			log.Error("failed to mark entry failed", "error", uerr)
		}
		s.metrics.Dispatches.WithLabelValues("failed").Inc()
		log.Error("entry failed, needs manual review", "error", err)
		return err
	}

	s.metrics.Dispatches.WithLabelValues("retry").Inc()
	log.Warn("dispatch attempt failed, will retry", "error", err)
	return err
}
