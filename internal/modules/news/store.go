package news

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrArticleNotFound = errors.New("article not found")
	ErrSlugTaken       = errors.New("slug already in use")
)

// Article is a news post.
type Article struct {
	ID          string    `db:"id" json:"id"`
	Slug        string    `db:"slug" json:"slug"`
	Title       string    `db:"title" json:"title"`
	Summary     string    `db:"summary" json:"summary"`
	Body        string    `db:"body" json:"body,omitempty"`
	Premium     bool      `db:"premium" json:"premium"`
	AuthorID    string    `db:"author_id" json:"author_id,omitempty"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Store persists articles.
type Store interface {
	// List returns articles newest first, without bodies.
	List(ctx context.Context, limit, offset int) ([]Article, error)
	Count(ctx context.Context) (int, error)
	GetBySlug(ctx context.Context, slug string) (Article, error)
	Create(ctx context.Context, a Article) (Article, error)
	Delete(ctx context.Context, id string) error
}

type memoryStore struct {
	mu       sync.RWMutex
	articles map[string]Article
}

func newMemoryStore() *memoryStore {
	return &memoryStore{articles: make(map[string]Article)}
}

func (m *memoryStore) List(_ context.Context, limit, offset int) ([]Article, error) {
	m.mu.RLock()
	all := make([]Article, 0, len(m.articles))
	for _, a := range m.articles {
		a.Body = ""
		all = append(all, a)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].PublishedAt.Equal(all[j].PublishedAt) {
			return all[i].PublishedAt.After(all[j].PublishedAt)
		}
		return all[i].Slug < all[j].Slug
	})
	if offset >= len(all) {
		return []Article{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.articles), nil
}

func (m *memoryStore) GetBySlug(_ context.Context, slug string) (Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.articles {
		if a.Slug == slug {
			return a, nil
		}
	}
	return Article{}, fmt.Errorf("%w: %s", ErrArticleNotFound, slug)
}

func (m *memoryStore) Create(_ context.Context, a Article) (Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.articles {
		if existing.Slug == a.Slug {
			return Article{}, fmt.Errorf("%w: %s", ErrSlugTaken, a.Slug)
		}
	}
	m.articles[a.ID] = a
	return a, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[id]; !ok {
		return fmt.Errorf("%w: %s", ErrArticleNotFound, id)
	}
	delete(m.articles, id)
	return nil
}

type postgresStore struct {
	db *sqlx.DB
}

const articleColumns = `id, slug, title, summary, body, premium, author_id, published_at, created_at, updated_at`

func (p *postgresStore) List(ctx context.Context, limit, offset int) ([]Article, error) {
	out := []Article{}
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, slug, title, summary, '' AS body, premium, author_id, published_at, created_at, updated_at
		FROM news_articles
		ORDER BY published_at DESC, slug
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return out, nil
}

func (p *postgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM news_articles`); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func (p *postgresStore) GetBySlug(ctx context.Context, slug string) (Article, error) {
	var a Article
	err := p.db.GetContext(ctx, &a, `SELECT `+articleColumns+` FROM news_articles WHERE slug = $1`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, fmt.Errorf("%w: %s", ErrArticleNotFound, slug)
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

func (p *postgresStore) Create(ctx context.Context, a Article) (Article, error) {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO news_articles (`+articleColumns+`)
		VALUES (:id, :slug, :title, :summary, :body, :premium, :author_id, :published_at, :created_at, :updated_at)`, a)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return Article{}, fmt.Errorf("%w: %s", ErrSlugTaken, a.Slug)
	}
	if err != nil {
		return Article{}, fmt.Errorf("create article: %w", err)
	}
	return a, nil
}

func (p *postgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM news_articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrArticleNotFound, id)
	}
	return nil
}
