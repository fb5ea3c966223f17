package store

import (
	"context"
	"fmt"
	"time"
)

// CreateElectionRound opens a round for a domain wing. The partial unique
// index on (domain_id, wing) for non-CLOSED rounds makes a second open
// round fail at the database, not in a read-then-write race.
func (s *PostgresStore) CreateElectionRound(ctx context.Context, round ElectionRound) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO election_rounds (id, domain_id, wing, status, end_date)
		VALUES ($1, $2, $3, $4, $5)
	`, round.ID, round.DomainID, round.Wing, round.Status, round.EndDate)
	if err != nil {
		return fmt.Errorf("create election round: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetElectionRound(ctx context.Context, roundID string) (ElectionRound, error) {
	var item ElectionRound
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain_id, wing, status, end_date, created_at
		FROM election_rounds
		WHERE id=$1
	`, roundID).Scan(&item.ID, &item.DomainID, &item.Wing, &item.Status, &item.EndDate, &item.CreatedAt)
	if err != nil {
		return ElectionRound{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListDomainRounds(ctx context.Context, domainID string) ([]ElectionRound, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_id, wing, status, end_date, created_at
		FROM election_rounds
		WHERE domain_id=$1
		ORDER BY created_at DESC
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain rounds: %w", err)
	}
	defer rows.Close()

	items := make([]ElectionRound, 0)
	for rows.Next() {
		var item ElectionRound
		if err := rows.Scan(&item.ID, &item.DomainID, &item.Wing, &item.Status, &item.EndDate, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan election round: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate election rounds: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetRoundStatus(ctx context.Context, roundID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE election_rounds SET status=$3 WHERE id=$1 AND status=$2
	`, roundID, from, to)
	if err != nil {
		return false, fmt.Errorf("set round status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set round status rows: %w", err)
	}
	return affected > 0, nil
}

// CloseRound moves any non-CLOSED round to CLOSED.
func (s *PostgresStore) CloseRound(ctx context.Context, roundID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE election_rounds SET status='CLOSED' WHERE id=$1 AND status <> 'CLOSED'
	`, roundID)
	if err != nil {
		return false, fmt.Errorf("close round: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close round rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ExpireRounds(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE election_rounds SET status='CLOSED'
		WHERE status <> 'CLOSED' AND end_date <= $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire rounds: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired round: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired rounds: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CreateCandidacy(ctx context.Context, candidacy Candidacy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidacies (id, domain_id, candidate_user_id, role, wing, round_id, status, total_score)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', 0)
	`, candidacy.ID, candidacy.DomainID, candidacy.CandidateUserID, candidacy.Role, candidacy.Wing, candidacy.RoundID)
	if err != nil {
		return fmt.Errorf("create candidacy: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCandidacy(ctx context.Context, candidacyID string) (Candidacy, error) {
	var item Candidacy
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain_id, candidate_user_id, role, wing, round_id, status, total_score, created_at
		FROM candidacies
		WHERE id=$1
	`, candidacyID).Scan(
		&item.ID,
		&item.DomainID,
		&item.CandidateUserID,
		&item.Role,
		&item.Wing,
		&item.RoundID,
		&item.Status,
		&item.TotalScore,
		&item.CreatedAt,
	)
	if err != nil {
		return Candidacy{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListRoundCandidacies(ctx context.Context, roundID string) ([]Candidacy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_id, candidate_user_id, role, wing, round_id, status, total_score, created_at
		FROM candidacies
		WHERE round_id=$1
		ORDER BY created_at ASC
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("list round candidacies: %w", err)
	}
	defer rows.Close()

	items := make([]Candidacy, 0)
	for rows.Next() {
		var item Candidacy
		if err := rows.Scan(
			&item.ID,
			&item.DomainID,
			&item.CandidateUserID,
			&item.Role,
			&item.Wing,
			&item.RoundID,
			&item.Status,
			&item.TotalScore,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan candidacy: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidacies: %w", err)
	}
	return items, nil
}


func (s *PostgresStore) ListCandidacyVotes(ctx context.Context, candidacyID string) ([]ScoreVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidacy_id, voter_id, score, weight, weighted_score, created_at
		FROM candidacy_votes
		WHERE candidacy_id=$1
	`, candidacyID)
	if err != nil {
		return nil, fmt.Errorf("list candidacy votes: %w", err)
	}
	defer rows.Close()
	return scanScoreVotes(rows)
}

// IncrementCandidacyScoreTx upserts the ballot and folds the delta against
// the voter's previously stored weighted score into the candidacy's running
// total. The candidacy row is locked first, so concurrent re-votes by the
// same voter serialize and cannot subtract the same prior ballot twice.
// Returns false without applying anything if the candidacy has already
// left PENDING.
func (s *PostgresStore) IncrementCandidacyScoreTx(ctx context.Context, vote ScoreVote) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin candidacy vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM candidacies WHERE id=$1 FOR UPDATE
	`, vote.SubjectID).Scan(&status)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("lock candidacy: %w", err)
	}
	if status != CandidacyPending {
		return false, nil
	}

	var prior int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE((
			SELECT weighted_score FROM candidacy_votes
			WHERE candidacy_id=$1 AND voter_id=$2
		), 0)
	`, vote.SubjectID, vote.VoterID).Scan(&prior); err != nil {
		return false, fmt.Errorf("read prior ballot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE candidacies SET total_score = total_score + $2 WHERE id=$1
	`, vote.SubjectID, vote.WeightedScore-prior); err != nil {
		return false, fmt.Errorf("increment candidacy score: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO candidacy_votes (candidacy_id, voter_id, score, weight, weighted_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (candidacy_id, voter_id)
		DO UPDATE SET score=EXCLUDED.score, weight=EXCLUDED.weight, weighted_score=EXCLUDED.weighted_score
	`, vote.SubjectID, vote.VoterID, vote.Score, vote.Weight, vote.WeightedScore); err != nil {
		return false, fmt.Errorf("upsert candidacy vote: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit candidacy vote: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SetCandidacyStatus(ctx context.Context, candidacyID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE candidacies SET status=$2 WHERE id=$1 AND status='PENDING'
	`, candidacyID, status)
	if err != nil {
		return false, fmt.Errorf("set candidacy status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set candidacy status rows: %w", err)
	}
	return affected > 0, nil
}
