package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTemplateNotFound = errors.New("message template not found")
	ErrTemplateBackend  = errors.New("message template backend unavailable")
)

// Template is a stored message template. Body is an html/template source.
type Template struct {
	Name      string
	Subject   string
	Body      string
	CreatedAt time.Time
}

// createTemplateLua writes the template only when the key is absent.
// KEYS[1] = template key
// ARGV = subject, body, created unix seconds
var createTemplateLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'subject', ARGV[1], 'body', ARGV[2], 'created', ARGV[3])
return 1
`)

type TemplateStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTemplateStore(redisClient redis.UniversalClient, prefix string) *TemplateStore {
	if prefix == "" {
		prefix = "m2f"
	}
	return &TemplateStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *TemplateStore) key(name string) string {
	return "{" + s.prefix + "}:tpl:" + name
}

// EnsureTemplate creates tpl if no template with its name exists. An existing
// template is left untouched so operator edits survive restarts.
func (s *TemplateStore) EnsureTemplate(ctx context.Context, tpl Template) (bool, error) {
	created := tpl.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	n, err := createTemplateLua.Run(ctx, s.redis,
		[]string{s.key(tpl.Name)},
		tpl.Subject,
		tpl.Body,
		created.Unix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTemplateBackend, err)
	}
	return n == 1, nil
}

func (s *TemplateStore) Template(ctx context.Context, name string) (Template, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return Template{}, fmt.Errorf("%w: %v", ErrTemplateBackend, err)
	}
	if len(fields) == 0 {
		return Template{}, ErrTemplateNotFound
	}

	tpl := Template{
		Name:    name,
		Subject: fields["subject"],
		Body:    fields["body"],
	}
	if sec, err := strconv.ParseInt(fields["created"], 10, 64); err == nil {
		tpl.CreatedAt = time.Unix(sec, 0).UTC()
	}
	return tpl, nil
}
