package persistence

import (
	"database/sql"
	"time"

	"mailsync_server/core/domain"

	"github.com/jmoiron/sqlx"
)

// ExecutionAdapter is the append-only sync attempt log.
type ExecutionAdapter struct {
	db *sqlx.DB
}

func NewExecutionAdapter(db *sqlx.DB) *ExecutionAdapter {
	return &ExecutionAdapter{db: db}
}

type executionEntity struct {
	ID        int64  `db:"id"`
	AccountID int64  `db:"account_id"`
	Trigger   string `db:"trigger"`
	Mode      string `db:"mode"`

	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`

	Result      sql.NullString `db:"result"`
	ErrorDetail sql.NullString `db:"error_detail"`

	Fetched int `db:"fetched"`
	Created int `db:"created"`
	Updated int `db:"updated"`

	DurationMs sql.NullInt64 `db:"duration_ms"`
}

func (e *executionEntity) toDomain() *domain.SyncExecution {
	exec := &domain.SyncExecution{
		ID:        e.ID,
		AccountID: e.AccountID,
		Trigger:   domain.SyncTrigger(e.Trigger),
		Mode:      domain.SyncMode(e.Mode),
		StartedAt: e.StartedAt,
		Fetched:   e.Fetched,
		Created:   e.Created,
		Updated:   e.Updated,
	}

	if e.FinishedAt.Valid {
		t := e.FinishedAt.Time
		exec.FinishedAt = &t
	}
	if e.Result.Valid {
		exec.Result = domain.SyncResult(e.Result.String)
	}
	if e.ErrorDetail.Valid {
		exec.ErrorDetail = e.ErrorDetail.String
	}
	if e.DurationMs.Valid {
		exec.DurationMs = e.DurationMs.Int64
	}

	return exec
}

func (a *ExecutionAdapter) Create(exec *domain.SyncExecution) error {
	query := `
		INSERT INTO sync_executions (account_id, "trigger", mode, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	startedAt := exec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
		exec.StartedAt = startedAt
	}
	return a.db.QueryRow(query,
		exec.AccountID, string(exec.Trigger), string(exec.Mode), startedAt,
	).Scan(&exec.ID)
}

// Finish closes an open execution row exactly once.
func (a *ExecutionAdapter) Finish(exec *domain.SyncExecution) error {
	query := `
		UPDATE sync_executions SET
			finished_at = $1,
			result = $2,
			error_detail = $3,
			fetched = $4,
			created = $5,
			updated = $6,
			duration_ms = $7
		WHERE id = $8 AND finished_at IS NULL
	`
	finishedAt := time.Now().UTC()
	if exec.FinishedAt != nil {
		finishedAt = *exec.FinishedAt
	} else {
		exec.FinishedAt = &finishedAt
	}
	if exec.DurationMs == 0 {
		exec.DurationMs = finishedAt.Sub(exec.StartedAt).Milliseconds()
	}

	_, err := a.db.Exec(query,
		finishedAt,
		string(exec.Result),
		toNullableString(exec.ErrorDetail),
		exec.Fetched,
		exec.Created,
		exec.Updated,
		exec.DurationMs,
		exec.ID,
	)
	return err
}

func (a *ExecutionAdapter) ListByAccount(accountID int64, limit int) ([]*domain.SyncExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	var entities []executionEntity
	query := `
		SELECT * FROM sync_executions
		WHERE account_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	if err := a.db.Select(&entities, query, accountID, limit); err != nil {
		return nil, err
	}

	execs := make([]*domain.SyncExecution, len(entities))
	for i := range entities {
		execs[i] = entities[i].toDomain()
	}
	return execs, nil
}

func (a *ExecutionAdapter) LastByAccount(accountID int64) (*domain.SyncExecution, error) {
	var entity executionEntity
	query := `
		SELECT * FROM sync_executions
		WHERE account_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	if err := a.db.Get(&entity, query, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}
