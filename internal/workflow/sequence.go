package workflow

import (
	"context"
	"database/sql"
	stderrors "errors"

	apperrors "permit-workflow/internal/common/errors"
)

// SequenceIssuer hands out the next permit number for a numbering period.
// It runs inside the caller's transaction: the per-period counter row is
// read with a row-level exclusive lock so concurrent issuers serialize,
// and the number commits atomically with the caller's submission update.
//
// The issuer never caches the last number in memory and never retries
// internally; retry policy belongs to the caller.
type SequenceIssuer struct{}

// Next returns the next number for the period. The first issuance in a
// period starts at 1.
func (SequenceIssuer) Next(ctx context.Context, tx *sql.Tx, period int) (int64, error) {
	var last int64
	err := tx.QueryRowContext(ctx,
		`SELECT last_number FROM permit_sequences WHERE period = $1 FOR UPDATE`,
		period,
	).Scan(&last)

	if stderrors.Is(err, sql.ErrNoRows) {
		// Two first-issuers racing on an empty period collide on the
		// primary key; the loser surfaces a retryable conflict.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO permit_sequences (period, last_number) VALUES ($1, 1)`,
			period,
		); err != nil {
			return 0, apperrors.FromDBError(err)
		}
		return 1, nil
	}
	if err != nil {
		return 0, apperrors.FromDBError(err)
	}

	next := last + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE permit_sequences SET last_number = $1 WHERE period = $2`,
		next, period,
	); err != nil {
		return 0, apperrors.FromDBError(err)
	}
	return next, nil
}
