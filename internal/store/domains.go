package store

import (
	"context"
	"fmt"
)

// CreateDomain inserts the domain plus its initial 100% self-owned ledger
// rows for both wings, atomically.
func (s *PostgresStore) CreateDomain(ctx context.Context, domain Domain) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create domain: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO domains (id, name, slug, parent_id, description)
		VALUES ($1, $2, $3, $4, $5)
	`, domain.ID, domain.Name, domain.Slug, domain.ParentID, domain.Description); err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}

	for _, wing := range []string{"LEFT", "RIGHT"} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO voting_shares (domain_id, domain_wing, owner_domain_id, owner_wing, percentage)
			VALUES ($1, $2, $1, $2, 100)
		`, domain.ID, wing); err != nil {
			return fmt.Errorf("seed self share: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create domain: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDomain(ctx context.Context, domainID string) (Domain, error) {
	var item Domain
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, parent_id, COALESCE(description, ''), created_at
		FROM domains
		WHERE id=$1
	`, domainID).Scan(&item.ID, &item.Name, &item.Slug, &item.ParentID, &item.Description, &item.CreatedAt)
	if err != nil {
		return Domain{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetDomainBySlug(ctx context.Context, slug string) (Domain, error) {
	var item Domain
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, parent_id, COALESCE(description, ''), created_at
		FROM domains
		WHERE slug=$1
	`, slug).Scan(&item.ID, &item.Name, &item.Slug, &item.ParentID, &item.Description, &item.CreatedAt)
	if err != nil {
		return Domain{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListDomains(ctx context.Context) ([]Domain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, parent_id, COALESCE(description, ''), created_at
		FROM domains
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	items := make([]Domain, 0)
	for rows.Next() {
		var item Domain
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.ParentID, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DomainChildCount(ctx context.Context, domainID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM domains WHERE parent_id=$1`, domainID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count domain children: %w", err)
	}
	return count, nil
}

// DomainContentCount counts posts and courses governed by the domain;
// deletion is blocked while any exist.
func (s *PostgresStore) DomainContentCount(ctx context.Context, domainID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM posts WHERE domain_id=$1)
		     + (SELECT COUNT(*) FROM courses WHERE domain_id=$1)
	`, domainID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count domain content: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteDomain(ctx context.Context, domainID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete domain: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM voting_shares WHERE domain_id=$1 OR owner_domain_id=$1`, domainID); err != nil {
		return fmt.Errorf("delete domain shares: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM domain_experts WHERE domain_id=$1`, domainID); err != nil {
		return fmt.Errorf("delete domain experts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM domains WHERE id=$1`, domainID); err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete domain: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertDomainExpert(ctx context.Context, expert DomainExpert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_experts (user_id, domain_id, role, wing)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, domain_id) DO UPDATE SET role=EXCLUDED.role, wing=EXCLUDED.wing
	`, expert.UserID, expert.DomainID, expert.Role, expert.Wing)
	if err != nil {
		return fmt.Errorf("upsert domain expert: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveDomainExpert(ctx context.Context, userID, domainID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM domain_experts WHERE user_id=$1 AND domain_id=$2`, userID, domainID)
	if err != nil {
		return fmt.Errorf("remove domain expert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDomainExperts(ctx context.Context, domainID string) ([]DomainExpert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, domain_id, role, wing, created_at
		FROM domain_experts
		WHERE domain_id=$1
		ORDER BY created_at ASC
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain experts: %w", err)
	}
	defer rows.Close()
	return scanExperts(rows)
}

func (s *PostgresStore) ListWingExperts(ctx context.Context, domainID, wing string) ([]DomainExpert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, domain_id, role, wing, created_at
		FROM domain_experts
		WHERE domain_id=$1 AND wing=$2
		ORDER BY created_at ASC
	`, domainID, wing)
	if err != nil {
		return nil, fmt.Errorf("list wing experts: %w", err)
	}
	defer rows.Close()
	return scanExperts(rows)
}

func (s *PostgresStore) ListUserExpertRoles(ctx context.Context, userID string) ([]DomainExpert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, domain_id, role, wing, created_at
		FROM domain_experts
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user expert roles: %w", err)
	}
	defer rows.Close()
	return scanExperts(rows)
}

type expertRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanExperts(rows expertRows) ([]DomainExpert, error) {
	items := make([]DomainExpert, 0)
	for rows.Next() {
		var item DomainExpert
		if err := rows.Scan(&item.UserID, &item.DomainID, &item.Role, &item.Wing, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain expert: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain experts: %w", err)
	}
	return items, nil
}
