package news

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	apperrors "github.com/Guillaume29200/esport-cms/internal/errors"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/identity"
	"github.com/Guillaume29200/esport-cms/internal/logging"
)

// ErrAccessDenied is returned when content.access refuses an article.
var ErrAccessDenied = errors.New("article reserved to premium members")

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Service reads and publishes articles.
type Service struct {
	store Store
	hooks hook.Dispatcher
	log   *logging.Logger
	now   func() time.Time
}

func NewService(store Store, hooks hook.Dispatcher, log *logging.Logger) *Service {
	return &Service{store: store, hooks: hooks, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// List returns one page of articles and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Article, int, error) {
	items, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Read returns the article for caller once content.access allowed it and
// news.article shaped it. Premium articles are open to admins by default;
// anything else needs a filter to grant access.
func (s *Service) Read(ctx context.Context, slug string, caller identity.Identity) (Article, error) {
	article, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		return Article{}, err
	}

	access, err := hook.ApplyAs(ctx, s.hooks, hook.ContentAccess, hook.AccessRequest{
		Resource: "news:" + article.ID,
		UserID:   caller.UserID,
		Role:     caller.Role,
		Premium:  article.Premium,
		Allowed:  !article.Premium || caller.IsAdmin(),
	})
	if err != nil {
		return Article{}, err
	}
	if !access.Allowed {
		return Article{}, ErrAccessDenied
	}

	return hook.ApplyAs(ctx, s.hooks, hook.NewsArticle, article)
}

// PublishInput is the body of POST /admin/news.
type PublishInput struct {
	Title       string     `json:"title"`
	Slug        string     `json:"slug,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Body        string     `json:"body"`
	Premium     bool       `json:"premium"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Publish stores a new article. The slug is derived from the title unless
// given.
func (s *Service) Publish(ctx context.Context, in PublishInput, authorID string) (Article, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Article{}, apperrors.Validation("title", "is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return Article{}, apperrors.Validation("body", "is required")
	}
	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.Title)
	}
	if !slugPattern.MatchString(slug) {
		return Article{}, apperrors.Validation("slug", "must be lowercase words joined by hyphens")
	}

	now := s.now()
	published := now
	if in.PublishedAt != nil {
		published = in.PublishedAt.UTC()
	}
	article, err := s.store.Create(ctx, Article{
		ID:          uuid.NewString(),
		Slug:        slug,
		Title:       in.Title,
		Summary:     strings.TrimSpace(in.Summary),
		Body:        in.Body,
		Premium:     in.Premium,
		AuthorID:    authorID,
		PublishedAt: published,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Article{}, err
	}
	s.log.WithContext(ctx).WithField("article_id", article.ID).WithField("slug", slug).Info("article published")
	return article, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithContext(ctx).WithField("article_id", id).Info("article deleted")
	return nil
}

// Slugify lowercases title and joins its letters and digits with hyphens.
// Accents are not transliterated; non-ASCII letters are dropped.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
	}
	return b.String()
}
