package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreatePost(ctx context.Context, post Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO posts (id, title, content, status, domain_id, author_id, original_post_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, post.ID, post.Title, post.Content, post.Status, post.DomainID, post.AuthorID, post.OriginalPostID); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	for _, domainID := range post.RelatedDomainIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_domains (post_id, domain_id)
			VALUES ($1, $2)
			ON CONFLICT (post_id, domain_id) DO NOTHING
		`, post.ID, domainID); err != nil {
			return fmt.Errorf("insert post domain: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create post: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	var item Post
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, status, domain_id, author_id, original_post_id,
		       COALESCE(revision_number, 0), COALESCE(version, 0), created_at, updated_at
		FROM posts
		WHERE id=$1
	`, postID).Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.Status,
		&item.DomainID,
		&item.AuthorID,
		&item.OriginalPostID,
		&item.RevisionNumber,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Post{}, err
	}

	related, err := s.listPostDomains(ctx, postID)
	if err != nil {
		return Post{}, err
	}
	item.RelatedDomainIDs = related
	return item, nil
}

func (s *PostgresStore) listPostDomains(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain_id FROM post_domains WHERE post_id=$1 ORDER BY domain_id`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post domains: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post domain: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post domains: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) UpdatePostContent(ctx context.Context, postID, title, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts SET title=$2, content=$3, updated_at=NOW()
		WHERE id=$1 AND status='DRAFT'
	`, postID, title, content)
	if err != nil {
		return false, fmt.Errorf("update post content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update post content rows: %w", err)
	}
	return affected > 0, nil
}

// SubmitPost moves DRAFT -> PENDING and assigns the next revision number
// within the post's lineage.
func (s *PostgresStore) SubmitPost(ctx context.Context, postID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status='PENDING', updated_at=NOW(),
			revision_number = 1 + COALESCE((
				SELECT MAX(p2.revision_number) FROM posts p2
				WHERE COALESCE(p2.original_post_id, p2.id) = COALESCE(posts.original_post_id, posts.id)
				  AND p2.id <> posts.id
			), 0)
		WHERE id=$1 AND status='DRAFT'
	`, postID)
	if err != nil {
		return false, fmt.Errorf("submit post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit post rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpsertPostVote(ctx context.Context, vote ScoreVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_votes (post_id, voter_id, score, weight, weighted_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (post_id, voter_id)
		DO UPDATE SET score=EXCLUDED.score, weight=EXCLUDED.weight, weighted_score=EXCLUDED.weighted_score
	`, vote.SubjectID, vote.VoterID, vote.Score, vote.Weight, vote.WeightedScore)
	if err != nil {
		return fmt.Errorf("upsert post vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPostVotes(ctx context.Context, postID string) ([]ScoreVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, voter_id, score, weight, weighted_score, created_at
		FROM post_votes
		WHERE post_id=$1
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post votes: %w", err)
	}
	defer rows.Close()
	return scanScoreVotes(rows)
}

// ApprovePostTx archives the previously approved sibling in the same
// lineage (a root post and its revisions share the root's id), then
// promotes the post to APPROVED with the next global version. Versions
// come from a sequence, so concurrent approvals of unrelated posts can
// never hand out the same number. The PENDING/REVIEWABLE guard
// linearizes concurrent winning approvals of the same post.
func (s *PostgresStore) ApprovePostTx(ctx context.Context, postID string) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin approve post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET status='ARCHIVED', updated_at=NOW()
		WHERE status='APPROVED'
		  AND id <> $1
		  AND COALESCE(original_post_id, id) = (SELECT COALESCE(original_post_id, id) FROM posts WHERE id=$1)
	`, postID); err != nil {
		return 0, false, fmt.Errorf("archive sibling: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, `
		UPDATE posts
		SET status='APPROVED', updated_at=NOW(), version = nextval('post_version_seq')
		WHERE id=$1 AND status IN ('PENDING', 'REVIEWABLE')
		RETURNING version
	`, postID).Scan(&version)
	if err != nil {
		if IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("approve post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit approve post: %w", err)
	}
	return version, true, nil
}

func (s *PostgresStore) SetPostStatus(ctx context.Context, postID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2
	`, postID, from, to)
	if err != nil {
		return false, fmt.Errorf("set post status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set post status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListDomainPosts(ctx context.Context, domainID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, status, domain_id, author_id, original_post_id,
		       COALESCE(revision_number, 0), COALESCE(version, 0), created_at, updated_at
		FROM posts
		WHERE domain_id=$1
		ORDER BY updated_at DESC
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		var item Post
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Content,
			&item.Status,
			&item.DomainID,
			&item.AuthorID,
			&item.OriginalPostID,
			&item.RevisionNumber,
			&item.Version,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

type scoreVoteRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanScoreVotes(rows scoreVoteRows) ([]ScoreVote, error) {
	items := make([]ScoreVote, 0)
	for rows.Next() {
		var item ScoreVote
		if err := rows.Scan(&item.SubjectID, &item.VoterID, &item.Score, &item.Weight, &item.WeightedScore, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan score vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score votes: %w", err)
	}
	return items, nil
}
