package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *PostgresStore) CreateInvestment(ctx context.Context, investment Investment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO investments
			(id, proposer_domain_id, proposer_wing, target_domain_id, target_wing,
			 pct_invested, pct_return, duration_years, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING')
	`, investment.ID, investment.ProposerDomainID, investment.ProposerWing,
		investment.TargetDomainID, investment.TargetWing,
		investment.PctInvested, investment.PctReturn, investment.DurationYears)
	if err != nil {
		return fmt.Errorf("create investment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvestment(ctx context.Context, investmentID string) (Investment, error) {
	var item Investment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, proposer_domain_id, proposer_wing, target_domain_id, target_wing,
		       pct_invested, pct_return, duration_years, status, start_date, end_date, created_at
		FROM investments
		WHERE id=$1
	`, investmentID).Scan(
		&item.ID,
		&item.ProposerDomainID,
		&item.ProposerWing,
		&item.TargetDomainID,
		&item.TargetWing,
		&item.PctInvested,
		&item.PctReturn,
		&item.DurationYears,
		&item.Status,
		&item.StartDate,
		&item.EndDate,
		&item.CreatedAt,
	)
	if err != nil {
		return Investment{}, err
	}
	return item, nil
}

// ListActiveInvestmentsTouching returns ACTIVE investments where the given
// domain wing is either side. The service overlays these onto the
// persisted ledger; expired rows simply stop matching.
func (s *PostgresStore) ListActiveInvestmentsTouching(ctx context.Context, domainID, wing string) ([]Investment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposer_domain_id, proposer_wing, target_domain_id, target_wing,
		       pct_invested, pct_return, duration_years, status, start_date, end_date, created_at
		FROM investments
		WHERE status='ACTIVE'
		  AND ((target_domain_id=$1 AND target_wing=$2) OR (proposer_domain_id=$1 AND proposer_wing=$2))
	`, domainID, wing)
	if err != nil {
		return nil, fmt.Errorf("list active investments: %w", err)
	}
	defer rows.Close()

	items := make([]Investment, 0)
	for rows.Next() {
		var item Investment
		if err := rows.Scan(
			&item.ID,
			&item.ProposerDomainID,
			&item.ProposerWing,
			&item.TargetDomainID,
			&item.TargetWing,
			&item.PctInvested,
			&item.PctReturn,
			&item.DurationYears,
			&item.Status,
			&item.StartDate,
			&item.EndDate,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertInvestmentVote(ctx context.Context, vote TransferVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO investment_votes (investment_id, voter_id, domain_id, approve)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (investment_id, voter_id, domain_id) DO UPDATE SET approve=EXCLUDED.approve
	`, vote.SubjectID, vote.VoterID, vote.DomainID, vote.Approve)
	if err != nil {
		return fmt.Errorf("upsert investment vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInvestmentVotes(ctx context.Context, investmentID string) ([]TransferVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT investment_id, voter_id, domain_id, approve, created_at
		FROM investment_votes
		WHERE investment_id=$1
	`, investmentID)
	if err != nil {
		return nil, fmt.Errorf("list investment votes: %w", err)
	}
	defer rows.Close()

	items := make([]TransferVote, 0)
	for rows.Next() {
		var item TransferVote
		if err := rows.Scan(&item.SubjectID, &item.VoterID, &item.DomainID, &item.Approve, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan investment vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investment votes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RejectInvestment(ctx context.Context, investmentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE investments SET status='REJECTED' WHERE id=$1 AND status='PENDING'
	`, investmentID)
	if err != nil {
		return false, fmt.Errorf("reject investment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject investment rows: %w", err)
	}
	return affected > 0, nil
}

// ActivateInvestment transitions PENDING -> ACTIVE with the clock started
// now. endDate stays NULL for non-positive durations (permanent). The
// PENDING guard ensures exactly one of two concurrent winning approvals
// performs the transition.
func (s *PostgresStore) ActivateInvestment(ctx context.Context, investmentID string, durationYears int) (bool, error) {
	var result sql.Result
	var err error
	if durationYears > 0 {
		result, err = s.db.ExecContext(ctx, `
			UPDATE investments
			SET status='ACTIVE', start_date=NOW(), end_date=NOW() + ($2 * INTERVAL '1 year')
			WHERE id=$1 AND status='PENDING'
		`, investmentID, durationYears)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE investments
			SET status='ACTIVE', start_date=NOW(), end_date=NULL
			WHERE id=$1 AND status='PENDING'
		`, investmentID)
	}
	if err != nil {
		return false, fmt.Errorf("activate investment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate investment rows: %w", err)
	}
	return affected > 0, nil
}

// TerminateInvestment force-expires an ACTIVE investment immediately.
func (s *PostgresStore) TerminateInvestment(ctx context.Context, investmentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE investments SET status='EXPIRED', end_date=NOW() WHERE id=$1 AND status='ACTIVE'
	`, investmentID)
	if err != nil {
		return false, fmt.Errorf("terminate investment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("terminate investment rows: %w", err)
	}
	return affected > 0, nil
}

// ExpireInvestments settles all ACTIVE investments past their end date and
// returns their ids. Ownership reverts implicitly because the read-time
// overlay only counts ACTIVE rows.
func (s *PostgresStore) ExpireInvestments(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE investments SET status='EXPIRED'
		WHERE status='ACTIVE' AND end_date IS NOT NULL AND end_date <= $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire investments: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired investment: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired investments: %w", err)
	}
	return ids, nil
}

// RejectStaleProposals force-rejects PENDING quorum-bearing entities older
// than the cutoff: prerequisites, exchanges and investments. Idempotent.
func (s *PostgresStore) RejectStaleProposals(ctx context.Context, cutoff time.Time) ([]SweptProposal, error) {
	swept := make([]SweptProposal, 0)

	queries := []struct {
		kind  string
		query string
	}{
		{"prerequisite", `UPDATE prerequisites SET status='REJECTED' WHERE status='PENDING' AND created_at <= $1 RETURNING id`},
		{"exchange", `UPDATE exchange_proposals SET status='REJECTED' WHERE status='PENDING' AND created_at <= $1 RETURNING id`},
		{"investment", `UPDATE investments SET status='REJECTED' WHERE status='PENDING' AND created_at <= $1 RETURNING id`},
	}
	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.query, cutoff)
		if err != nil {
			return nil, fmt.Errorf("reject stale %ss: %w", q.kind, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan stale %s: %w", q.kind, err)
			}
			swept = append(swept, SweptProposal{ID: id, Type: q.kind})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate stale %ss: %w", q.kind, err)
		}
		rows.Close()
	}
	return swept, nil
}
