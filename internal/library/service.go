// Package library は書籍・著者・出版社・読書セッションの書き込みを担う。
//
// 既存書籍との照合結果に応じて新規作成か補完（NULLで既存値を上書きしない更新）を選び、
// ドライラン時は書き込みを行わずに予定の操作をログに残す。
package library

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/bookhelper/internal/model"
	"github.com/hitoshi/bookhelper/internal/repository"
	"github.com/hitoshi/bookhelper/internal/security"
)

// URLValidator は保存前にURLを検証する。
type URLValidator interface {
	Validate(rawURL string) error
}

// Repositories はServiceが書き込みに使うリポジトリ群。
type Repositories struct {
	Authors    repository.AuthorRepository
	Publishers repository.PublisherRepository
	Books      repository.BookRepository
	Sessions   repository.ReadingSessionRepository
}

// Service は照合済みレコードの書き込みを提供する。
type Service struct {
	repos     Repositories
	sanitizer security.DescriptionSanitizer
	urls      URLValidator
	logger    *slog.Logger
	dryRun    bool
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repos Repositories,
	sanitizer security.DescriptionSanitizer,
	urls URLValidator,
	logger *slog.Logger,
	dryRun bool,
) *Service {
	return &Service{
		repos:     repos,
		sanitizer: sanitizer,
		urls:      urls,
		logger:    logger,
		dryRun:    dryRun,
	}
}

// DryRun はドライランかどうかを返す。
func (s *Service) DryRun() bool {
	return s.dryRun
}

func (s *Service) skipWrite(action string, attrs ...any) {
	s.logger.Info("ドライラン: 書き込みをスキップします", append([]any{"action", action}, attrs...)...)
}

// UpsertAuthor は著者を名前で作成または更新し、IDを返す。
func (s *Service) UpsertAuthor(ctx context.Context, c model.Contribution) (int64, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return 0, fmt.Errorf("%w: author name is empty", model.ErrInvalidRecord)
	}
	if s.dryRun {
		s.skipWrite("upsert_author", "author", name)
		return model.PlaceholderID, nil
	}

	a := &model.Author{Name: name, HardcoverID: positive(c.AuthorID)}
	id, err := s.repos.Authors.Upsert(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("著者の書き込みに失敗: %w", err)
	}
	return id, nil
}

// UpsertPublisher は出版社を名前で作成または更新し、IDを返す。
func (s *Service) UpsertPublisher(ctx context.Context, p model.PublisherRef) (int64, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return 0, fmt.Errorf("%w: publisher name is empty", model.ErrInvalidRecord)
	}
	if s.dryRun {
		s.skipWrite("upsert_publisher", "publisher", name)
		return model.PlaceholderID, nil
	}

	pub := &model.Publisher{Name: name, HardcoverID: positive(p.ID)}
	id, err := s.repos.Publishers.Upsert(ctx, pub)
	if err != nil {
		return 0, fmt.Errorf("出版社の書き込みに失敗: %w", err)
	}
	return id, nil
}

func positive(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
