package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-collector/app/entity"
)

var ErrNotFound = errors.New("flush history not found")

type FlushHistoryRepository struct {
	db *sql.DB
}

// NewFlushHistoryRepository constructs a repository backed by MySQL.
func NewFlushHistoryRepository(db *sql.DB) *FlushHistoryRepository {
	return &FlushHistoryRepository{db: db}
}

// Create inserts a new flush history record.
func (r *FlushHistoryRepository) Create(ctx context.Context, requestID string, reason string, status int16) error {
	const query = `
		INSERT INTO flush_history (request_id, reason, status, files, delivered, failed, deferred, removed)
		VALUES (?, ?, ?, 0, 0, 0, 0, 0)
	`
	_, err := r.db.ExecContext(ctx, query, requestID, reason, status)
	return err
}

// UpdateStatus updates the status for a request ID.
func (r *FlushHistoryRepository) UpdateStatus(ctx context.Context, requestID string, status int16) error {
	const query = `
		UPDATE flush_history
		SET status = ?
		WHERE request_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, status, requestID)
	return err
}

// Finish stores the final status and counters of a cycle.
func (r *FlushHistoryRepository) Finish(ctx context.Context, h entity.FlushHistory) error {
	const query = `
		UPDATE flush_history
		SET status = ?, files = ?, delivered = ?, failed = ?, deferred = ?, removed = ?
		WHERE request_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, h.Status, h.Files, h.Delivered, h.Failed, h.Deferred, h.Removed, h.RequestID)
	return err
}

// FindByRequestID loads one record. It returns ErrNotFound when there is none.
func (r *FlushHistoryRepository) FindByRequestID(ctx context.Context, requestID string) (*entity.FlushHistory, error) {
	const query = `
		SELECT request_id, reason, status, files, delivered, failed, deferred, removed, created_at
		FROM flush_history
		WHERE request_id = ?
	`
	var h entity.FlushHistory
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&h.RequestID, &h.Reason, &h.Status, &h.Files, &h.Delivered, &h.Failed, &h.Deferred, &h.Removed, &h.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// DeleteByRequestID removes a history record by request ID.
func (r *FlushHistoryRepository) DeleteByRequestID(ctx context.Context, requestID string) error {
	const query = `
		DELETE FROM flush_history
		WHERE request_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, requestID)
	return err
}
