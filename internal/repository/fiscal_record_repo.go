package repository

import (
	"context"
	"time"

	"evapos/internal/dto"
	"evapos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// chainLockKey is the pg_advisory_xact_lock key guarding the chain tail.
const chainLockKey int64 = 0x56455249464143 // "VERIFAC"

// FiscalRecordRepository stores the chained fiscal records.
type FiscalRecordRepository interface {
	DB() *gorm.DB
	// LockChain serializes appenders across instances for the life of tx.
	LockChain(ctx context.Context, tx *gorm.DB) error
	Tail(ctx context.Context, tx *gorm.DB) (*model.FiscalRecord, error)
	Create(ctx context.Context, tx *gorm.DB, rec *model.FiscalRecord) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.FiscalRecord, error)
	FindBySaleID(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) (*model.FiscalRecord, error)
	// Transition applies updates only while the record is still in status from.
	Transition(ctx context.Context, id uuid.UUID, from model.FiscalStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, filter dto.FiscalRecordFilter) ([]model.FiscalRecord, int64, error)
	CountByStatus(ctx context.Context) (map[model.FiscalStatus]int64, error)
	DueForRetry(ctx context.Context, now time.Time, maxRetries, limit int) ([]model.FiscalRecord, error)
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	// Walk visits the whole chain in sequence order, batch by batch.
	Walk(ctx context.Context, batchSize int, fn func(batch []model.FiscalRecord) error) error

	ChainState(ctx context.Context, tx *gorm.DB, issuerTaxID string) (*model.FiscalChainState, error)
	SaveChainState(ctx context.Context, tx *gorm.DB, st *model.FiscalChainState) error
}

// ReclaimedErrorCode marks a record whose submission claim expired; the lost
// attempt counts toward the retry budget.
const ReclaimedErrorCode = "RECLAIMED"

type fiscalRecordRepo struct{ db *gorm.DB }

// NewFiscalRecordRepository returns a gorm-backed FiscalRecordRepository.
func NewFiscalRecordRepository(db *gorm.DB) FiscalRecordRepository {
	return &fiscalRecordRepo{db: db}
}

func (r *fiscalRecordRepo) DB() *gorm.DB { return r.db }

func (r *fiscalRecordRepo) LockChain(ctx context.Context, tx *gorm.DB) error {
	if !IsPostgres(tx) {
		return nil
	}
	return tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", chainLockKey).Error
}

func (r *fiscalRecordRepo) Tail(ctx context.Context, tx *gorm.DB) (*model.FiscalRecord, error) {
	var rec model.FiscalRecord
	err := pick(r.db, tx).WithContext(ctx).Order("sequence DESC").Limit(1).Take(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *fiscalRecordRepo) Create(ctx context.Context, tx *gorm.DB, rec *model.FiscalRecord) error {
	return pick(r.db, tx).WithContext(ctx).Create(rec).Error
}

func (r *fiscalRecordRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.FiscalRecord, error) {
	var rec model.FiscalRecord
	if err := pick(r.db, tx).WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *fiscalRecordRepo) FindBySaleID(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) (*model.FiscalRecord, error) {
	var rec model.FiscalRecord
	if err := pick(r.db, tx).WithContext(ctx).Where("sale_id = ?", saleID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *fiscalRecordRepo) Transition(ctx context.Context, id uuid.UUID, from model.FiscalStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.FiscalRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *fiscalRecordRepo) List(ctx context.Context, filter dto.FiscalRecordFilter) ([]model.FiscalRecord, int64, error) {
	var recs []model.FiscalRecord
	var total int64

	q := r.db.WithContext(ctx).Model(&model.FiscalRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.InvoiceType != "" {
		q = q.Where("invoice_type = ?", filter.InvoiceType)
	}
	if filter.From != "" {
		q = q.Where("DATE(invoice_date) >= ?", filter.From)
	}
	if filter.To != "" {
		q = q.Where("DATE(invoice_date) <= ?", filter.To)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("sequence DESC").
		Offset(pageOffset(filter.Page, filter.Limit)).Limit(filter.Limit).
		Find(&recs).Error
	return recs, total, err
}

func (r *fiscalRecordRepo) CountByStatus(ctx context.Context) (map[model.FiscalStatus]int64, error) {
	var rows []struct {
		Status model.FiscalStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.FiscalRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.FiscalStatus]int64, len(model.AllFiscalStatuses))
	for _, st := range model.AllFiscalStatuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *fiscalRecordRepo) DueForRetry(ctx context.Context, now time.Time, maxRetries, limit int) ([]model.FiscalRecord, error) {
	var recs []model.FiscalRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", model.FiscalPending, maxRetries).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("sequence ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *fiscalRecordRepo) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.FiscalRecord{}).
		Where("status = ? AND submitted_at < ?", model.FiscalSubmitted, cutoff).
		Updates(map[string]any{
			"status":        model.FiscalPending,
			"next_retry_at": nil,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_code":    ReclaimedErrorCode,
			"error_message": "submission claim expired without a verdict",
		})
	return res.RowsAffected, res.Error
}

func (r *fiscalRecordRepo) Walk(ctx context.Context, batchSize int, fn func(batch []model.FiscalRecord) error) error {
	var last int64
	for {
		var batch []model.FiscalRecord
		err := r.db.WithContext(ctx).
			Where("sequence > ?", last).
			Order("sequence ASC").
			Limit(batchSize).
			Find(&batch).Error
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		last = batch[len(batch)-1].Sequence
	}
}

func (r *fiscalRecordRepo) ChainState(ctx context.Context, tx *gorm.DB, issuerTaxID string) (*model.FiscalChainState, error) {
	var st model.FiscalChainState
	err := pick(r.db, tx).WithContext(ctx).Where("issuer_tax_id = ?", issuerTaxID).First(&st).Error
	if IsNotFound(err) {
		return &model.FiscalChainState{IssuerTaxID: issuerTaxID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *fiscalRecordRepo) SaveChainState(ctx context.Context, tx *gorm.DB, st *model.FiscalChainState) error {
	return pick(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(st).Error
}
