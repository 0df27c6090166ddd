package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"contract-backend/internal/schema"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectColumns = `
SELECT id, user_id, file_key, file_name, mime_type, contract_type_hint, provider, model, status,
       result, input_tokens, output_tokens, cost_usd, error_code, error_message,
       started_at, completed_at, created_at, updated_at
FROM analyses`

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new analysis.
func (r *PGRepo) Create(ctx context.Context, analysis Analysis) error {
	const query = `
INSERT INTO analyses (
	id, user_id, file_key, file_name, mime_type, contract_type_hint, provider, status, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`
	_, err := r.DB.ExecContext(ctx, query,
		analysis.ID,
		analysis.UserID,
		analysis.FileKey,
		analysis.FileName,
		analysis.MimeType,
		analysis.ContractTypeHint,
		analysis.Provider,
		analysis.Status,
		analysis.CreatedAt,
	)
	return err
}

// GetByID returns an analysis by ID.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	row := r.DB.QueryRowContext(ctx, selectColumns+`
WHERE id = $1
LIMIT 1`, analysisID)
	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return a, nil
}

// TransitionStatus applies a conditional status change in a single statement,
// so concurrent callers cannot both win the same transition.
func (r *PGRepo) TransitionStatus(ctx context.Context, analysisID, from, to string) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	const query = `
UPDATE analyses
SET status = $1,
    started_at = CASE WHEN $1 = 'processing' AND started_at IS NULL THEN now() ELSE started_at END,
    updated_at = now()
WHERE id = $2::uuid AND status = $3`

	res, err := r.DB.ExecContext(ctx, query, to, analysisID, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, analysisID); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// UpdateAnalysisStatus updates status and result fields.
func (r *PGRepo) UpdateAnalysisStatus(ctx context.Context, analysisID, status string, fields *ResultFields) error {
	const query = `
UPDATE analyses
SET status = $1,
    result = COALESCE($2::jsonb, result),
    provider = COALESCE(NULLIF($3::text, ''), provider),
    model = COALESCE(NULLIF($4::text, ''), model),
    input_tokens = COALESCE($5::integer, input_tokens),
    output_tokens = COALESCE($6::integer, output_tokens),
    cost_usd = COALESCE($7::double precision, cost_usd),
    error_code = COALESCE(NULLIF($8::text, ''), error_code),
    error_message = COALESCE(NULLIF($9::text, ''), error_message),
    started_at = CASE
        WHEN $1 = 'processing' AND started_at IS NULL THEN now()
        ELSE started_at
    END,
    completed_at = CASE
        WHEN ($1 = 'completed' OR $1 = 'failed') AND completed_at IS NULL THEN now()
        ELSE completed_at
    END,
    updated_at = now()
WHERE id = $10::uuid`

	if fields == nil {
		fields = &ResultFields{}
	}
	var payload any
	if fields.Result != nil {
		raw, err := json.Marshal(fields.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		payload = raw
	}

	res, err := r.DB.ExecContext(ctx, query,
		status,
		payload,
		fields.Provider,
		fields.Model,
		fields.InputTokens,
		fields.OutputTokens,
		fields.CostUSD,
		fields.ErrorCode,
		fields.ErrorMessage,
		analysisID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser lists analyses for a user ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	limit, offset = pageBounds(limit, offset)

	rows, err := r.DB.QueryContext(ctx, selectColumns+`
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var (
		a            Analysis
		hint         sql.NullString
		provider     sql.NullString
		model        sql.NullString
		result       sql.NullString
		inputTokens  sql.NullInt64
		outputTokens sql.NullInt64
		costUSD      sql.NullFloat64
		errorCode    sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.FileKey,
		&a.FileName,
		&a.MimeType,
		&hint,
		&provider,
		&model,
		&a.Status,
		&result,
		&inputTokens,
		&outputTokens,
		&costUSD,
		&errorCode,
		&errorMessage,
		&startedAt,
		&completedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Analysis{}, err
	}
	a.ContractTypeHint = hint.String
	a.Provider = provider.String
	a.Model = model.String
	a.ErrorCode = errorCode.String
	if result.Valid {
		var parsed schema.AnalysisResult
		if err := json.Unmarshal([]byte(result.String), &parsed); err != nil {
			return Analysis{}, fmt.Errorf("decode stored result for %s: %w", a.ID, err)
		}
		a.Result = &parsed
	}
	if inputTokens.Valid {
		v := int(inputTokens.Int64)
		a.InputTokens = &v
	}
	if outputTokens.Valid {
		v := int(outputTokens.Int64)
		a.OutputTokens = &v
	}
	if costUSD.Valid {
		a.CostUSD = &costUSD.Float64
	}
	if errorMessage.Valid {
		a.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return a, nil
}
