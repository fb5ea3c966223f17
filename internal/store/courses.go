package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreateCourse(ctx context.Context, course Course) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, domain_id, title, description, status)
		VALUES ($1, $2, $3, $4, $5)
	`, course.ID, course.DomainID, course.Title, course.Description, course.Status)
	if err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCourse(ctx context.Context, courseID string) (Course, error) {
	var item Course
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain_id, title, COALESCE(description, ''), status, created_at
		FROM courses
		WHERE id=$1
	`, courseID).Scan(&item.ID, &item.DomainID, &item.Title, &item.Description, &item.Status, &item.CreatedAt)
	if err != nil {
		return Course{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListDomainCourses(ctx context.Context, domainID string) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_id, title, COALESCE(description, ''), status, created_at
		FROM courses
		WHERE domain_id=$1
		ORDER BY title ASC
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain courses: %w", err)
	}
	defer rows.Close()

	items := make([]Course, 0)
	for rows.Next() {
		var item Course
		if err := rows.Scan(&item.ID, &item.DomainID, &item.Title, &item.Description, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetCourseStatus(ctx context.Context, courseID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE courses SET status=$3 WHERE id=$1 AND status=$2
	`, courseID, from, to)
	if err != nil {
		return false, fmt.Errorf("set course status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set course status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpsertCourseVote(ctx context.Context, vote ScoreVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO course_votes (course_id, voter_id, score, weight, weighted_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (course_id, voter_id)
		DO UPDATE SET score=EXCLUDED.score, weight=EXCLUDED.weight, weighted_score=EXCLUDED.weighted_score
	`, vote.SubjectID, vote.VoterID, vote.Score, vote.Weight, vote.WeightedScore)
	if err != nil {
		return fmt.Errorf("upsert course vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCourseVotes(ctx context.Context, courseID string) ([]ScoreVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id, voter_id, score, weight, weighted_score, created_at
		FROM course_votes
		WHERE course_id=$1
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list course votes: %w", err)
	}
	defer rows.Close()
	return scanScoreVotes(rows)
}

func (s *PostgresStore) CreateChapter(ctx context.Context, chapter Chapter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapters (id, course_id, title, position, status)
		VALUES ($1, $2, $3, $4, $5)
	`, chapter.ID, chapter.CourseID, chapter.Title, chapter.Position, chapter.Status)
	if err != nil {
		return fmt.Errorf("create chapter: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, chapterID string) (Chapter, error) {
	var item Chapter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, course_id, title, position, status, created_at
		FROM chapters
		WHERE id=$1
	`, chapterID).Scan(&item.ID, &item.CourseID, &item.Title, &item.Position, &item.Status, &item.CreatedAt)
	if err != nil {
		return Chapter{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCourseChapters(ctx context.Context, courseID string) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, title, position, status, created_at
		FROM chapters
		WHERE course_id=$1
		ORDER BY position ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list course chapters: %w", err)
	}
	defer rows.Close()

	items := make([]Chapter, 0)
	for rows.Next() {
		var item Chapter
		if err := rows.Scan(&item.ID, &item.CourseID, &item.Title, &item.Position, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetChapterStatus(ctx context.Context, chapterID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET status=$3 WHERE id=$1 AND status=$2
	`, chapterID, from, to)
	if err != nil {
		return false, fmt.Errorf("set chapter status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set chapter status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpsertChapterVote(ctx context.Context, vote ScoreVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_votes (chapter_id, voter_id, score, weight, weighted_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chapter_id, voter_id)
		DO UPDATE SET score=EXCLUDED.score, weight=EXCLUDED.weight, weighted_score=EXCLUDED.weighted_score
	`, vote.SubjectID, vote.VoterID, vote.Score, vote.Weight, vote.WeightedScore)
	if err != nil {
		return fmt.Errorf("upsert chapter vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChapterVotes(ctx context.Context, chapterID string) ([]ScoreVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chapter_id, voter_id, score, weight, weighted_score, created_at
		FROM chapter_votes
		WHERE chapter_id=$1
	`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list chapter votes: %w", err)
	}
	defer rows.Close()
	return scanScoreVotes(rows)
}

func (s *PostgresStore) CreatePrerequisite(ctx context.Context, prereq Prerequisite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prerequisites (id, course_id, prereq_course_id, kind, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
	`, prereq.ID, prereq.CourseID, prereq.PrereqCourseID, prereq.Kind)
	if err != nil {
		return fmt.Errorf("create prerequisite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPrerequisite(ctx context.Context, prereqID string) (Prerequisite, error) {
	var item Prerequisite
	err := s.db.QueryRowContext(ctx, `
		SELECT id, course_id, prereq_course_id, kind, status, created_at
		FROM prerequisites
		WHERE id=$1
	`, prereqID).Scan(&item.ID, &item.CourseID, &item.PrereqCourseID, &item.Kind, &item.Status, &item.CreatedAt)
	if err != nil {
		return Prerequisite{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCoursePrerequisites(ctx context.Context, courseID string) ([]Prerequisite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, prereq_course_id, kind, status, created_at
		FROM prerequisites
		WHERE course_id=$1
		ORDER BY created_at ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list course prerequisites: %w", err)
	}
	defer rows.Close()

	items := make([]Prerequisite, 0)
	for rows.Next() {
		var item Prerequisite
		if err := rows.Scan(&item.ID, &item.CourseID, &item.PrereqCourseID, &item.Kind, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prerequisite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prerequisites: %w", err)
	}
	return items, nil
}

// ListCoursePrereqEdges returns every non-rejected course->course edge as
// [from, to] pairs. The service walks these to detect dependency cycles
// before admitting a new prerequisite.
func (s *PostgresStore) ListCoursePrereqEdges(ctx context.Context) ([][2]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id, prereq_course_id
		FROM prerequisites
		WHERE kind='COURSE' AND status IN ('PENDING', 'APPROVED')
	`)
	if err != nil {
		return nil, fmt.Errorf("list prereq edges: %w", err)
	}
	defer rows.Close()

	edges := make([][2]string, 0)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scan prereq edge: %w", err)
		}
		edges = append(edges, [2]string{from, to})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prereq edges: %w", err)
	}
	return edges, nil
}

func (s *PostgresStore) SetPrerequisiteStatus(ctx context.Context, prereqID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE prerequisites SET status=$2 WHERE id=$1 AND status='PENDING'
	`, prereqID, status)
	if err != nil {
		return false, fmt.Errorf("set prerequisite status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set prerequisite status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpsertPrerequisiteVote(ctx context.Context, vote ScoreVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prerequisite_votes (prerequisite_id, voter_id, score, weight, weighted_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (prerequisite_id, voter_id)
		DO UPDATE SET score=EXCLUDED.score, weight=EXCLUDED.weight, weighted_score=EXCLUDED.weighted_score
	`, vote.SubjectID, vote.VoterID, vote.Score, vote.Weight, vote.WeightedScore)
	if err != nil {
		return fmt.Errorf("upsert prerequisite vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPrerequisiteVotes(ctx context.Context, prereqID string) ([]ScoreVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prerequisite_id, voter_id, score, weight, weighted_score, created_at
		FROM prerequisite_votes
		WHERE prerequisite_id=$1
	`, prereqID)
	if err != nil {
		return nil, fmt.Errorf("list prerequisite votes: %w", err)
	}
	defer rows.Close()
	return scanScoreVotes(rows)
}
