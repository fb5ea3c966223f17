package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ListVotingShares returns the persisted ledger rows for a domain wing.
// These reflect permanent transfers (executed exchanges) plus the seeded
// self row; the live investment overlay happens in the service layer.
func (s *PostgresStore) ListVotingShares(ctx context.Context, domainID, wing string) ([]VotingShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain_id, domain_wing, owner_domain_id, owner_wing, percentage
		FROM voting_shares
		WHERE domain_id=$1 AND domain_wing=$2
		ORDER BY owner_domain_id, owner_wing
	`, domainID, wing)
	if err != nil {
		return nil, fmt.Errorf("list voting shares: %w", err)
	}
	defer rows.Close()

	items := make([]VotingShare, 0)
	for rows.Next() {
		var item VotingShare
		if err := rows.Scan(&item.DomainID, &item.DomainWing, &item.OwnerDomainID, &item.OwnerWing, &item.Percentage); err != nil {
			return nil, fmt.Errorf("scan voting share: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voting shares: %w", err)
	}
	return items, nil
}

func adjustShare(ctx context.Context, tx *sql.Tx, domainID, domainWing, ownerDomainID, ownerWing string, delta float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO voting_shares (domain_id, domain_wing, owner_domain_id, owner_wing, percentage)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (domain_id, domain_wing, owner_domain_id, owner_wing)
		DO UPDATE SET percentage = voting_shares.percentage + EXCLUDED.percentage
	`, domainID, domainWing, ownerDomainID, ownerWing, delta)
	if err != nil {
		return fmt.Errorf("adjust share %s/%s <- %s/%s: %w", domainID, domainWing, ownerDomainID, ownerWing, err)
	}
	return nil
}
