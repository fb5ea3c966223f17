package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across posts, domains, and courses
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPost {
		postWhere := "p.fts @@ " + tsQuery
		if q.FilterDomainID != "" {
			postWhere += fmt.Sprintf(" AND p.domain_id = $%d", argN)
			args = append(args, q.FilterDomainID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.domain_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM posts p
			WHERE %s`, tsQuery, tsQuery, postWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultDomain {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'domain'::text AS type, d.id, d.name AS title,
				ts_headline('english', coalesce(d.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS domain_id, ''::text AS status,
				ts_rank(d.fts, %s) AS rank
			FROM domains d
			WHERE d.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultCourse {
		courseWhere := "c.fts @@ " + tsQuery
		if q.FilterDomainID != "" {
			courseWhere += fmt.Sprintf(" AND c.domain_id = $%d", argN)
			args = append(args, q.FilterDomainID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'course'::text AS type, c.id, c.title,
				ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.domain_id, c.status,
				ts_rank(c.fts, %s) AS rank
			FROM courses c
			WHERE %s`, tsQuery, tsQuery, courseWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, domain_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DomainID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []DomainRecord, []CourseRecord, error) {
	postRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, domain_id, status
		FROM posts
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var r PostRecord
		if err := postRows.Scan(&r.ID, &r.Title, &r.Content, &r.DomainID, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, r)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	domainRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(description, ''), coalesce(parent_id, '')
		FROM domains
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load domains: %w", err)
	}
	defer domainRows.Close()

	domains := make([]DomainRecord, 0)
	for domainRows.Next() {
		var r DomainRecord
		if err := domainRows.Scan(&r.ID, &r.Name, &r.Description, &r.ParentID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, r)
	}
	if err := domainRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate domains: %w", err)
	}

	courseRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), domain_id, status
		FROM courses
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load courses: %w", err)
	}
	defer courseRows.Close()

	courses := make([]CourseRecord, 0)
	for courseRows.Next() {
		var r CourseRecord
		if err := courseRows.Scan(&r.ID, &r.Title, &r.Description, &r.DomainID, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, r)
	}
	if err := courseRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate courses: %w", err)
	}

	return posts, domains, courses, nil
}
