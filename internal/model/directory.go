package model

import "time"

// Area は組織の区分（areasテーブル）を表す。階層構造を持つ。
type Area struct {
	ID           string
	Name         string
	Code         string
	ParentAreaID *string
	Level        int
	DisplayOrder int
	Status       Status

	// Parent は階層取得時のみ設定される。
	Parent *AreaRef
}

// AreaRef は結合取得時のエリア要約。
type AreaRef struct {
	ID   string
	Name string
	Code string
}

// DirectoryEntry はディレクトリの1エントリ（directorioテーブル）を表す。
type DirectoryEntry struct {
	ID             string
	FullName       string
	Position       string
	AreaID         *string
	Department     string
	Phone          string
	Extension      string
	Email          string
	Mobile         string
	OfficeLocation string
	PhotoURL       string
	Notes          string
	DisplayOrder   int
	Status         Status
	CreatedBy      *string
	EditedBy       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// 結合取得される表示用情報
	Area        *AreaRef
	CreatorName string
	EditorName  string
}

// EntryInput は作成・更新時にクライアントから渡される値。
// AreaIDが空の場合はエリア未設定として保存される。
type EntryInput struct {
	FullName       string
	Position       string
	AreaID         string
	Department     string
	Phone          string
	Extension      string
	Email          string
	Mobile         string
	OfficeLocation string
	PhotoURL       string
	Notes          string
	DisplayOrder   int
}

// DirectoryFilter は一覧取得時の絞り込み条件。
type DirectoryFilter struct {
	Search string
	AreaID string
	// Advanced がtrueの場合はbuscar_directorio関数で検索し、エリア名も対象にする。
	Advanced bool
}

// IsEmpty は絞り込み条件が指定されていないかどうかを返す。
func (f DirectoryFilter) IsEmpty() bool {
	return f.Search == "" && f.AreaID == ""
}
