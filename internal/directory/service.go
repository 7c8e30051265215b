// Package directory はディレクトリエントリとエリアのドメインロジックを提供する。
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aifa/directorio/internal/form"
	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/repository"
	"github.com/aifa/directorio/internal/security"
)

// Service はディレクトリのサービス層。
// 一覧、検索、作成、更新、論理削除、CSV出力のビジネスロジックを提供する。
type Service struct {
	entries     repository.DirectoryRepository
	areas       repository.AreaRepository
	sanitizer   security.TextSanitizerService
	logger      *slog.Logger
	emailDomain string
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	entries repository.DirectoryRepository,
	areas repository.AreaRepository,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
	emailDomain string,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		entries:     entries,
		areas:       areas,
		sanitizer:   sanitizer,
		logger:      logger,
		emailDomain: emailDomain,
		now:         time.Now,
	}
}

// List はACTIVOのエントリを絞り込み条件付きで返す。
func (s *Service) List(ctx context.Context, filter model.DirectoryFilter) ([]*model.DirectoryEntry, error) {
	if filter.AreaID != "" {
		if _, err := uuid.Parse(filter.AreaID); err != nil {
			return nil, model.NewInvalidIDError(filter.AreaID)
		}
	}
	entries, err := s.entries.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ディレクトリ一覧の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// SearchAdvanced はbuscar_directorio関数による検索を行う。エリア名も検索対象になる。
func (s *Service) SearchAdvanced(ctx context.Context, term, areaID string) ([]*model.DirectoryEntry, error) {
	if areaID != "" {
		if _, err := uuid.Parse(areaID); err != nil {
			return nil, model.NewInvalidIDError(areaID)
		}
	}
	entries, err := s.entries.SearchAdvanced(ctx, term, areaID)
	if err != nil {
		return nil, fmt.Errorf("ディレクトリの検索に失敗しました: %w", err)
	}
	return entries, nil
}

// Get は指定IDのエントリを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.DirectoryEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewInvalidIDError(id)
	}
	entry, err := s.entries.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}
	if entry == nil {
		return nil, model.NewEntryNotFoundError(id)
	}
	return entry, nil
}

// Create はエントリを作成する。actorは作成者として記録される。
func (s *Service) Create(ctx context.Context, actor *model.Identity, in model.EntryInput) (*model.DirectoryEntry, error) {
	if actor == nil || actor.ID == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	in, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	creator := actor.ID
	entry := &model.DirectoryEntry{
		ID:        uuid.NewString(),
		Status:    model.StatusActive,
		CreatedBy: &creator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(entry, in)

	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("エントリの作成に失敗しました: %w", err)
	}

	s.logger.Info("directory entry created",
		slog.String("entry_id", entry.ID),
		slog.String("actor_id", actor.ID),
	)
	return s.reload(ctx, entry)
}

// Update はエントリの内容を更新する。actorは編集者として記録される。
func (s *Service) Update(ctx context.Context, actor *model.Identity, id string, in model.EntryInput) (*model.DirectoryEntry, error) {
	if actor == nil || actor.ID == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err = s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	editor := actor.ID
	apply(entry, in)
	entry.EditedBy = &editor
	entry.UpdatedAt = s.now()

	if err := s.entries.Update(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewEntryNotFoundError(id)
		}
		return nil, fmt.Errorf("エントリの更新に失敗しました: %w", err)
	}

	s.logger.Info("directory entry updated",
		slog.String("entry_id", id),
		slog.String("actor_id", actor.ID),
	)
	return s.reload(ctx, entry)
}

// Delete はエントリを論理削除する（INACTIVOに変更し、編集者を記録する）。
func (s *Service) Delete(ctx context.Context, actor *model.Identity, id string) error {
	if actor == nil || actor.ID == "" {
		return model.NewNotAuthenticatedError()
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.NewInvalidIDError(id)
	}

	if err := s.entries.SoftDelete(ctx, id, actor.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewEntryNotFoundError(id)
		}
		return fmt.Errorf("エントリの削除に失敗しました: %w", err)
	}

	s.logger.Info("directory entry deleted",
		slog.String("entry_id", id),
		slog.String("actor_id", actor.ID),
	)
	return nil
}

// Areas はACTIVOのエリアを表示順、名前順で返す。
func (s *Service) Areas(ctx context.Context) ([]*model.Area, error) {
	areas, err := s.areas.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("エリア一覧の取得に失敗しました: %w", err)
	}
	return areas, nil
}

// AreaHierarchy はACTIVOのエリアを親エリア付きで返す。
func (s *Service) AreaHierarchy(ctx context.Context) ([]*model.Area, error) {
	areas, err := s.areas.ListHierarchy(ctx)
	if err != nil {
		return nil, fmt.Errorf("エリア階層の取得に失敗しました: %w", err)
	}
	return areas, nil
}

// ExportCSV は絞り込み条件に一致するエントリをCSVとしてwに書き出す。
// filter.AdvancedがtrueのときはSearchAdvancedの結果を書き出す。
// 書き出した件数を返す。
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, filter model.DirectoryFilter, encoding string) (int, error) {
	enc, err := lookupEncoding(encoding)
	if err != nil {
		return 0, err
	}
	var entries []*model.DirectoryEntry
	if filter.Advanced {
		entries, err = s.SearchAdvanced(ctx, filter.Search, filter.AreaID)
	} else {
		entries, err = s.List(ctx, filter)
	}
	if err != nil {
		return 0, err
	}
	if err := writeCSV(w, entries, enc); err != nil {
		return 0, fmt.Errorf("CSVの書き出しに失敗しました: %w", err)
	}
	return len(entries), nil
}

// prepare は入力をサニタイズし、検証する。
func (s *Service) prepare(ctx context.Context, in model.EntryInput) (model.EntryInput, error) {
	in.FullName = s.sanitizer.Sanitize(in.FullName)
	in.Position = s.sanitizer.Sanitize(in.Position)
	in.Department = s.sanitizer.Sanitize(in.Department)
	in.Phone = s.sanitizer.Sanitize(in.Phone)
	in.Extension = s.sanitizer.Sanitize(in.Extension)
	in.Email = strings.TrimSpace(in.Email)
	in.Mobile = s.sanitizer.Sanitize(in.Mobile)
	in.OfficeLocation = s.sanitizer.Sanitize(in.OfficeLocation)
	in.PhotoURL = s.sanitizer.SanitizeURL(in.PhotoURL)
	in.Notes = s.sanitizer.Sanitize(in.Notes)
	in.AreaID = strings.TrimSpace(in.AreaID)

	if errs := form.ValidateEntry(in, s.emailDomain); errs != nil {
		return in, model.NewInvalidEntryError(errs.Error())
	}

	if in.AreaID != "" {
		if _, err := uuid.Parse(in.AreaID); err != nil {
			return in, model.NewInvalidIDError(in.AreaID)
		}
		area, err := s.areas.FindByID(ctx, in.AreaID)
		if err != nil {
			return in, fmt.Errorf("エリアの取得に失敗しました: %w", err)
		}
		if area == nil || area.Status != model.StatusActive {
			return in, model.NewAreaNotFoundError(in.AreaID)
		}
	}
	return in, nil
}

// reload は結合情報付きでエントリを取得し直す。取得できない場合は手元の値を返す。
func (s *Service) reload(ctx context.Context, entry *model.DirectoryEntry) (*model.DirectoryEntry, error) {
	fresh, err := s.entries.FindByID(ctx, entry.ID)
	if err != nil {
		s.logger.Warn("failed to reload directory entry",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
		return entry, nil
	}
	if fresh == nil {
		return entry, nil
	}
	return fresh, nil
}

func apply(entry *model.DirectoryEntry, in model.EntryInput) {
	entry.FullName = in.FullName
	entry.Position = in.Position
	entry.AreaID = nil
	if in.AreaID != "" {
		areaID := in.AreaID
		entry.AreaID = &areaID
	}
	entry.Department = in.Department
	entry.Phone = in.Phone
	entry.Extension = in.Extension
	entry.Email = in.Email
	entry.Mobile = in.Mobile
	entry.OfficeLocation = in.OfficeLocation
	entry.PhotoURL = in.PhotoURL
	entry.Notes = in.Notes
	entry.DisplayOrder = in.DisplayOrder
}

// InputFromEntry は既存エントリから編集用の入力値を作る。
func InputFromEntry(e *model.DirectoryEntry) model.EntryInput {
	in := model.EntryInput{
		FullName:       e.FullName,
		Position:       e.Position,
		Department:     e.Department,
		Phone:          e.Phone,
		Extension:      e.Extension,
		Email:          e.Email,
		Mobile:         e.Mobile,
		OfficeLocation: e.OfficeLocation,
		PhotoURL:       e.PhotoURL,
		Notes:          e.Notes,
		DisplayOrder:   e.DisplayOrder,
	}
	if e.AreaID != nil {
		in.AreaID = *e.AreaID
	}
	return in
}
