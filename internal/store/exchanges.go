package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreateExchangeProposal(ctx context.Context, proposal ExchangeProposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_proposals
			(id, proposer_domain_id, proposer_wing, target_domain_id, target_wing,
			 pct_proposer_to_target, pct_target_to_proposer, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING')
	`, proposal.ID, proposal.ProposerDomainID, proposal.ProposerWing, proposal.TargetDomainID,
		proposal.TargetWing, proposal.PctProposerToTarget, proposal.PctTargetToProposer)
	if err != nil {
		return fmt.Errorf("create exchange proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExchangeProposal(ctx context.Context, proposalID string) (ExchangeProposal, error) {
	var item ExchangeProposal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, proposer_domain_id, proposer_wing, target_domain_id, target_wing,
		       pct_proposer_to_target, pct_target_to_proposer, status, created_at, executed_at
		FROM exchange_proposals
		WHERE id=$1
	`, proposalID).Scan(
		&item.ID,
		&item.ProposerDomainID,
		&item.ProposerWing,
		&item.TargetDomainID,
		&item.TargetWing,
		&item.PctProposerToTarget,
		&item.PctTargetToProposer,
		&item.Status,
		&item.CreatedAt,
		&item.ExecutedAt,
	)
	if err != nil {
		return ExchangeProposal{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpsertExchangeVote(ctx context.Context, vote TransferVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_votes (proposal_id, voter_id, domain_id, approve)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id, voter_id, domain_id) DO UPDATE SET approve=EXCLUDED.approve
	`, vote.SubjectID, vote.VoterID, vote.DomainID, vote.Approve)
	if err != nil {
		return fmt.Errorf("upsert exchange vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExchangeVotes(ctx context.Context, proposalID string) ([]TransferVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, voter_id, domain_id, approve, created_at
		FROM exchange_votes
		WHERE proposal_id=$1
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list exchange votes: %w", err)
	}
	defer rows.Close()

	items := make([]TransferVote, 0)
	for rows.Next() {
		var item TransferVote
		if err := rows.Scan(&item.SubjectID, &item.VoterID, &item.DomainID, &item.Approve, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange votes: %w", err)
	}
	return items, nil
}

// RejectExchangeProposal transitions PENDING -> REJECTED. The status guard
// makes concurrent terminal transitions race-safe: only one wins.
func (s *PostgresStore) RejectExchangeProposal(ctx context.Context, proposalID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE exchange_proposals SET status='REJECTED' WHERE id=$1 AND status='PENDING'
	`, proposalID)
	if err != nil {
		return false, fmt.Errorf("reject exchange proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject exchange proposal rows: %w", err)
	}
	return affected > 0, nil
}

// ExecuteExchangeTx flips the proposal to EXECUTED and applies the four
// ledger mutations in a single transaction: each side's self-share is
// decremented and the counterparty's share incremented. If the proposal is
// no longer PENDING nothing is applied and (false, nil) is returned.
func (s *PostgresStore) ExecuteExchangeTx(ctx context.Context, proposal ExchangeProposal) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin execute exchange: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE exchange_proposals SET status='EXECUTED', executed_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, proposal.ID)
	if err != nil {
		return false, fmt.Errorf("mark exchange executed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark exchange executed rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	// Proposer wing cedes pct_proposer_to_target to the target wing.
	if err := adjustShare(ctx, tx, proposal.ProposerDomainID, proposal.ProposerWing,
		proposal.ProposerDomainID, proposal.ProposerWing, -proposal.PctProposerToTarget); err != nil {
		return false, err
	}
	if err := adjustShare(ctx, tx, proposal.ProposerDomainID, proposal.ProposerWing,
		proposal.TargetDomainID, proposal.TargetWing, proposal.PctProposerToTarget); err != nil {
		return false, err
	}
	// Target wing cedes pct_target_to_proposer to the proposer wing.
	if err := adjustShare(ctx, tx, proposal.TargetDomainID, proposal.TargetWing,
		proposal.TargetDomainID, proposal.TargetWing, -proposal.PctTargetToProposer); err != nil {
		return false, err
	}
	if err := adjustShare(ctx, tx, proposal.TargetDomainID, proposal.TargetWing,
		proposal.ProposerDomainID, proposal.ProposerWing, proposal.PctTargetToProposer); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit execute exchange: %w", err)
	}
	return true, nil
}
