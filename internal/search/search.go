package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost   ResultType = "post"
	ResultDomain ResultType = "domain"
	ResultCourse ResultType = "course"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	DomainID string     `json:"domainId"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterDomainID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPost(p PostRecord) error
	IndexDomain(d DomainRecord) error
	IndexCourse(c CourseRecord) error
	DeletePost(id string) error
	DeleteDomain(id string) error
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	DomainID string `json:"domainId"`
	Status   string `json:"status"`
}

// DomainRecord is the data we index for a knowledge domain.
type DomainRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    string `json:"parentId"`
}

// CourseRecord is the data we index for a course.
type CourseRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DomainID    string `json:"domainId"`
	Status      string `json:"status"`
}
