package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

var targetTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

type EntryService interface {
	CreateEntry(ctx context.Context, userID int64, ec *transfer.EntryCreation) (*models.SchedulingEntry, error)
	UpdateEntry(ctx context.Context, userID, entryID int64, eu *transfer.EntryUpdate) (*models.SchedulingEntry, error)
	EntryInfo(ctx context.Context, entryID, userID int64) (*transfer.EntryResponse, error)
	List(ctx context.Context, userID int64) ([]*models.SchedulingEntry, error)
	Remove(ctx context.Context, userID, entryID int64) error
}

type entryService struct {
	tx        repository.Transactor
	er        repository.EntryRepository
	mr        repository.MediaAssetRepository
	ac        repository.SocialAccountRepository
	scheduler SchedulerService
	verifier  AssetVerifier
	logger    *slog.Logger
}

func NewEntryService(
	tx repository.Transactor,
	er repository.EntryRepository,
	mr repository.MediaAssetRepository,
	ac repository.SocialAccountRepository,
	scheduler SchedulerService,
	verifier AssetVerifier,
	logger *slog.Logger) EntryService {
	return &entryService{
		tx:        tx,
		er:        er,
		mr:        mr,
		ac:        ac,
		scheduler: scheduler,
		verifier:  verifier,
		logger:    logger,
	}
}

func (s *entryService) CreateEntry(ctx context.Context, userID int64, ec *transfer.EntryCreation) (*models.SchedulingEntry, error) {
	if userID == 0 {
		return nil, apperr.Validation("user is not valid")
	}
	if ec == nil {
		return nil, apperr.Validation("entry creation data is nil")
	}

	targetTime, err := parseTargetTime(ec.TargetTime)
	if err != nil {
		return nil, err
	}

	mode := ec.DistributionMode
	if mode == "" {
		mode = models.SinglePost
	}
	if !mode.Valid() {
		return nil, apperr.Validation("unknown distribution mode %q", mode)
	}

	if err := s.validateMedia(ctx, ec.Media); err != nil {
		return nil, err
	}
	if err := s.checkAccount(ctx, ec.AccountID, userID); err != nil {
		return nil, err
	}

	entry := &models.SchedulingEntry{
		OwnerID:          userID,
		AccountID:        ec.AccountID,
		TargetTime:       targetTime,
		Caption:          ec.Caption,
		PlatformFlags:    ec.PlatformFlags,
		DistributionMode: mode,
		Status:           models.EntryStatusPending,
	}

	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		id, err := s.er.Create(ctx, tx, entry)
		if err != nil {
			return fmt.Errorf("error creating entry: %w", err)
		}
		entry.ID = id

		entry.Media, err = s.insertAssets(ctx, tx, id, ec.Media, 0)
		return err
	})
	if err != nil {
		return nil, apperr.Transient(err, "store entry")
	}

	if _, err := s.scheduler.Schedule(ctx, entry); err != nil {
		// Keep the store free of entries nothing will ever dispatch.
		if rerr := s.delete(ctx, entry.ID); rerr != nil {
			s.logger.Error("failed to roll back unscheduled entry", "entry_id", entry.ID, "error", rerr)
		}
		return nil, err
	}

	s.logger.Info("entry created", "entry_id", entry.ID, "user_id", userID, "media", len(entry.Media))
	return entry, nil
}

func (s *entryService) UpdateEntry(ctx context.Context, userID, entryID int64, eu *transfer.EntryUpdate) (*models.SchedulingEntry, error) {
	if eu == nil {
		return nil, apperr.Validation("entry update data is nil")
	}
	if err := s.checkOwner(ctx, userID, entryID); err != nil {
		return nil, err
	}

	entry, err := s.er.GetByID(ctx, entryID)
	if err != nil {
		return nil, apperr.Transient(err, "load entry")
	}
	if entry == nil {
		return nil, apperr.NotFound("entry %d", entryID)
	}
	if entry.Status == models.EntryStatusExecuted {
		return nil, apperr.Conflict("entry %d was already published", entryID)
	}

	job, err := s.scheduler.JobState(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if job.InFlight() {
		return nil, apperr.Conflict("entry %d is being published", entryID)
	}

	// A pending entry whose job is gone (an earlier reschedule failed halfway,
	// or the broker lost it) is scheduled again on any update.
	reschedule := entry.Status == models.EntryStatusFailed || !job.Live()

	if eu.AccountID != nil && *eu.AccountID != entry.AccountID {
		if err := s.checkAccount(ctx, *eu.AccountID, userID); err != nil {
			return nil, err
		}
		entry.AccountID = *eu.AccountID
	}
	if eu.TargetTime != nil {
		t, err := parseTargetTime(*eu.TargetTime)
		if err != nil {
			return nil, err
		}
		if !t.Equal(entry.TargetTime) {
			entry.TargetTime = t
			reschedule = true
		}
	}
	if eu.Caption != nil {
		entry.Caption = *eu.Caption
	}
	if eu.PlatformFlags != nil {
		entry.PlatformFlags = *eu.PlatformFlags
	}
	if eu.DistributionMode != nil {
		if !eu.DistributionMode.Valid() {
			return nil, apperr.Validation("unknown distribution mode %q", *eu.DistributionMode)
		}
		entry.DistributionMode = *eu.DistributionMode
	}

	current, err := s.mr.ListByEntryID(ctx, entryID)
	if err != nil {
		return nil, apperr.Transient(err, "load media assets")
	}

	var plan *mediaPlan
	if eu.Media != nil {
		if err := s.validateMedia(ctx, eu.Media); err != nil {
			return nil, err
		}
		plan, err = planMedia(current, eu.Media)
		if err != nil {
			return nil, err
		}
		if plan.changed() {
			reschedule = true
		}
	} else if len(current) == 0 {
		return nil, apperr.Validation("entry %d has no media assets", entryID)
	}

	if entry.Status == models.EntryStatusFailed {
		entry.Status = models.EntryStatusPending
		entry.Attempts = 0
		entry.LastError = ""
	}

	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.er.Update(ctx, tx, entry); err != nil {
			return err
		}
		if plan != nil {
			return s.applyMedia(ctx, tx, entryID, plan)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, apperr.Transient(err, "update entry")
	}

	entry.Media, err = s.mr.ListByEntryID(ctx, entryID)
	if err != nil {
		return nil, apperr.Transient(err, "reload media assets")
	}

	if reschedule {
		if _, err := s.scheduler.Reschedule(ctx, entry); err != nil {
			return nil, err
		}
	}

	s.logger.Info("entry updated", "entry_id", entryID, "rescheduled", reschedule)
	return entry, nil
}

func (s *entryService) EntryInfo(ctx context.Context, entryID, userID int64) (*transfer.EntryResponse, error) {
	if err := s.checkOwner(ctx, userID, entryID); err != nil {
		return nil, err
	}

	entry, err := s.er.GetByID(ctx, entryID)
	if err != nil {
		return nil, apperr.Transient(err, "load entry")
	}
	if entry == nil {
		return nil, apperr.NotFound("entry %d", entryID)
	}

	entry.Media, err = s.mr.ListByEntryID(ctx, entryID)
	if err != nil {
		return nil, apperr.Transient(err, "load media assets")
	}

	resp := &transfer.EntryResponse{SchedulingEntry: entry}
	job, err := s.scheduler.JobState(ctx, entryID)
	if err != nil {
		s.logger.Warn("failed to look up job state", "entry_id", entryID, "error", err)
	} else if job != nil {
		resp.JobState = job.State
	}
	return resp, nil
}

func (s *entryService) List(ctx context.Context, userID int64) ([]*models.SchedulingEntry, error) {
	if userID == 0 {
		return nil, apperr.Validation("user is not valid")
	}
	entries, err := s.er.GetByOwner(ctx, userID)
	if err != nil {
		return nil, apperr.Transient(err, "list entries")
	}
	return entries, nil
}

func (s *entryService) Remove(ctx context.Context, userID, entryID int64) error {
	if err := s.checkOwner(ctx, userID, entryID); err != nil {
		return err
	}

	if err := s.scheduler.Cancel(ctx, entryID); err != nil {
		return err
	}

	if err := s.delete(ctx, entryID); err != nil {
		return apperr.Transient(err, "remove entry")
	}

	s.logger.Info("entry removed", "entry_id", entryID, "user_id", userID)
	return nil
}

func (s *entryService) delete(ctx context.Context, entryID int64) error {
	return s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.mr.RemoveByEntryID(ctx, tx, entryID); err != nil {
			return err
		}
		return s.er.Remove(ctx, tx, entryID)
	})
}

func (s *entryService) checkOwner(ctx context.Context, userID, entryID int64) error {
	if userID == 0 {
		return apperr.Validation("user is not valid")
	}
	if entryID == 0 {
		return apperr.Validation("entry id is not valid")
	}

	ok, err := s.er.CheckByOwner(ctx, entryID, userID)
	if err != nil {
		return apperr.Transient(err, "check entry owner")
	}
	if !ok {
		return apperr.NotFound("entry %d", entryID)
	}
	return nil
}

func (s *entryService) checkAccount(ctx context.Context, accountID, userID int64) error {
	if accountID == 0 {
		return apperr.Validation("social account is required")
	}
	ok, err := s.ac.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return apperr.Transient(err, fmt.Sprintf("check social account %d", accountID))
	}
	if !ok {
		return apperr.Validation("social account %d does not exist", accountID)
	}
	return nil
}

func (s *entryService) validateMedia(ctx context.Context, media []transfer.AssetInput) error {
	if len(media) == 0 {
		return apperr.Validation("entry must have at least one media asset")
	}

	for i, m := range media {
		u, err := url.ParseRequestURI(m.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return apperr.Validation("media %d: invalid url %q", i, m.URL)
		}
		if !supportedMIME(m.MimeType) {
			return apperr.Validation("media %d: unsupported mime type %q", i, m.MimeType)
		}
		if s.verifier != nil {
			if err := s.verifier.VerifyAsset(ctx, m.URL); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *entryService) insertAssets(ctx context.Context, tx *sqlx.Tx, entryID int64, inputs []transfer.AssetInput, firstOrder int) ([]*models.MediaAsset, error) {
	assets := make([]*models.MediaAsset, 0, len(inputs))
	for i, in := range inputs {
		ma := &models.MediaAsset{
			EntryID:      entryID,
			URL:          in.URL,
			MimeType:     in.MimeType,
			ThumbnailURL: in.ThumbnailURL,
			DisplayOrder: firstOrder + i,
		}
		id, err := s.mr.Create(ctx, tx, ma)
		if err != nil {
			return nil, fmt.Errorf("error saving media asset: %w", err)
		}
		ma.ID = id
		assets = append(assets, ma)
	}
	return assets, nil
}

func (s *entryService) applyMedia(ctx context.Context, tx *sqlx.Tx, entryID int64, p *mediaPlan) error {
	for _, id := range p.remove {
		if err := s.mr.Remove(ctx, tx, id); err != nil {
			return fmt.Errorf("error removing media asset %d: %w", id, err)
		}
	}
	for id, order := range p.reorder {
		if err := s.mr.UpdateDisplayOrder(ctx, tx, id, order); err != nil {
			return fmt.Errorf("error reordering media asset %d: %w", id, err)
		}
	}
	for order, in := range p.add {
		if _, err := s.insertAssets(ctx, tx, entryID, []transfer.AssetInput{in}, order); err != nil {
			return err
		}
	}
	return nil
}

// mediaPlan turns a requested media list into store operations. Kept assets
// keep their usage counters.
type mediaPlan struct {
	remove  []int64
	reorder map[int64]int
	add     map[int]transfer.AssetInput
}

func (p *mediaPlan) changed() bool {
	return len(p.remove) > 0 || len(p.reorder) > 0 || len(p.add) > 0
}

func planMedia(current []*models.MediaAsset, requested []transfer.AssetInput) (*mediaPlan, error) {
	byID := make(map[int64]*models.MediaAsset, len(current))
	for _, a := range current {
		byID[a.ID] = a
	}

	p := &mediaPlan{reorder: map[int64]int{}, add: map[int]transfer.AssetInput{}}
	kept := make(map[int64]bool, len(requested))
	for order, in := range requested {
		if in.ID == 0 {
			p.add[order] = in
			continue
		}
		a, ok := byID[in.ID]
		if !ok {
			return nil, apperr.Validation("media asset %d does not belong to this entry", in.ID)
		}
		if kept[in.ID] {
			return nil, apperr.Validation("media asset %d listed twice", in.ID)
		}
		kept[in.ID] = true
		if a.DisplayOrder != order {
			p.reorder[in.ID] = order
		}
	}
	for _, a := range current {
		if !kept[a.ID] {
			p.remove = append(p.remove, a.ID)
		}
	}
	return p, nil
}

func parseTargetTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, apperr.Validation("target time is required")
	}
	for _, layout := range targetTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Validation("invalid target time %q", v)
}

func supportedMIME(mime string) bool {
	if !strings.HasPrefix(mime, "image/") && !strings.HasPrefix(mime, "video/") {
		return false
	}
	return filetype.IsMIMESupported(mime)
}
