package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aifa/directorio/internal/model"
)

// PostgresAreaRepo はPostgreSQLを使用したエリアリポジトリ。
type PostgresAreaRepo struct {
	db *sql.DB
}

// NewPostgresAreaRepo はPostgresAreaRepoを生成する。
func NewPostgresAreaRepo(db *sql.DB) *PostgresAreaRepo {
	return &PostgresAreaRepo{db: db}
}

const areaColumns = `a.id, a.nombre, a.clave, a.parent_area_id, a.nivel, a.orden_visualizacion, a.estado`

// ListActive はACTIVOのエリアを表示順、名前順で返す。
func (r *PostgresAreaRepo) ListActive(ctx context.Context) ([]*model.Area, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+areaColumns+`
		 FROM areas a
		 WHERE a.estado = $1
		 ORDER BY a.orden_visualizacion ASC, a.nombre ASC`,
		model.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}
	defer rows.Close()

	var areas []*model.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate areas: %w", err)
	}

	return areas, nil
}

// FindByID は指定IDのエリアを取得する。見つからない場合はnilを返す。
func (r *PostgresAreaRepo) FindByID(ctx context.Context, id string) (*model.Area, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+areaColumns+` FROM areas a WHERE a.id = $1`,
		id,
	)
	a, err := scanArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListHierarchy はACTIVOのエリアを親エリアの要約付きで返す。
func (r *PostgresAreaRepo) ListHierarchy(ctx context.Context) ([]*model.Area, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+areaColumns+`, p.id, p.nombre, p.clave
		 FROM areas a
		 LEFT JOIN areas p ON p.id = a.parent_area_id
		 WHERE a.estado = $1
		 ORDER BY a.nivel ASC, a.orden_visualizacion ASC`,
		model.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list area hierarchy: %w", err)
	}
	defer rows.Close()

	var areas []*model.Area
	for rows.Next() {
		var (
			a        model.Area
			parentID sql.NullString
			ref      struct{ id, name, code sql.NullString }
		)
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Code, &parentID, &a.Level, &a.DisplayOrder, &a.Status,
			&ref.id, &ref.name, &ref.code,
		); err != nil {
			return nil, fmt.Errorf("failed to scan area: %w", err)
		}
		a.ParentAreaID = nullStringPtr(parentID)
		if ref.id.Valid {
			a.Parent = &model.AreaRef{ID: ref.id.String, Name: ref.name.String, Code: ref.code.String}
		}
		areas = append(areas, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate areas: %w", err)
	}

	return areas, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArea(s rowScanner) (*model.Area, error) {
	var (
		a        model.Area
		parentID sql.NullString
	)
	err := s.Scan(&a.ID, &a.Name, &a.Code, &parentID, &a.Level, &a.DisplayOrder, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan area: %w", err)
	}
	a.ParentAreaID = nullStringPtr(parentID)
	return &a, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ AreaRepository = (*PostgresAreaRepo)(nil)
