// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/aifa/directorio/internal/model"
)

// ErrNotFound は更新・削除対象の行が存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// ProfileRepository はプロフィール（perfiles）の読み取りインターフェース。
type ProfileRepository interface {
	// FindActiveByID はACTIVOのプロフィールを取得する。見つからない場合はnilを返す。
	FindActiveByID(ctx context.Context, id string) (*model.Profile, error)
}

// AreaRepository はエリアの読み取りインターフェース。
type AreaRepository interface {
	// ListActive はACTIVOのエリアを表示順、名前順で返す。
	ListActive(ctx context.Context) ([]*model.Area, error)

	// FindByID は指定IDのエリアを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Area, error)

	// ListHierarchy はACTIVOのエリアを親エリアの要約付きで、階層、表示順の順に返す。
	ListHierarchy(ctx context.Context) ([]*model.Area, error)
}

// DirectoryRepository はディレクトリエントリの永続化インターフェース。
type DirectoryRepository interface {
	// List はACTIVOのエントリをエリア、作成者、編集者の情報付きで返す。
	// 表示順、氏名順に並ぶ。
	List(ctx context.Context, filter model.DirectoryFilter) ([]*model.DirectoryEntry, error)

	// SearchAdvanced はbuscar_directorio関数で検索する。
	// termとareaIDが空の場合は条件なしとして扱う。
	SearchAdvanced(ctx context.Context, term, areaID string) ([]*model.DirectoryEntry, error)

	// FindByID は指定IDのエントリを状態に関係なく取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.DirectoryEntry, error)

	// Create はエントリを作成する。
	Create(ctx context.Context, entry *model.DirectoryEntry) error

	// Update はエントリの内容と編集者を更新する。対象がない場合はErrNotFoundを返す。
	Update(ctx context.Context, entry *model.DirectoryEntry) error

	// SoftDelete はエントリをINACTIVOにし、編集者を記録する。対象がない場合はErrNotFoundを返す。
	SoftDelete(ctx context.Context, id, editorID string) error
}
