package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aifa/directorio/internal/model"
)

// PostgresDirectoryRepo はPostgreSQLを使用したディレクトリリポジトリ。
type PostgresDirectoryRepo struct {
	db *sql.DB
}

// NewPostgresDirectoryRepo はPostgresDirectoryRepoを生成する。
func NewPostgresDirectoryRepo(db *sql.DB) *PostgresDirectoryRepo {
	return &PostgresDirectoryRepo{db: db}
}

// entrySelect はエリア・作成者・編集者を結合したエントリ取得クエリ。
const entrySelect = `SELECT d.id, d.nombre_completo, d.puesto, d.area_id, d.departamento,
	d.telefono, d.extension, d.email, d.celular, d.ubicacion_oficina, d.foto_url, d.notas,
	d.orden_visualizacion, d.estado, d.creado_por, d.editado_por, d.created_at, d.updated_at,
	a.id, a.nombre, a.clave, c.nombre_completo, e.nombre_completo
FROM directorio d
LEFT JOIN areas a ON a.id = d.area_id
LEFT JOIN perfiles c ON c.id = d.creado_por
LEFT JOIN perfiles e ON e.id = d.editado_por`

// List はACTIVOのエントリを絞り込み条件付きで返す。
// Searchは氏名・役職・部署・メールに対する大文字小文字を区別しない部分一致。
func (r *PostgresDirectoryRepo) List(ctx context.Context, filter model.DirectoryFilter) ([]*model.DirectoryEntry, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.DirectoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate directory entries: %w", err)
	}

	return entries, nil
}

// buildListQuery はListのクエリと引数を組み立てる。
func buildListQuery(filter model.DirectoryFilter) (string, []any) {
	conditions := []string{"d.estado = $1"}
	args := []any{model.StatusActive}

	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(d.nombre_completo ILIKE $%d OR d.puesto ILIKE $%d OR d.departamento ILIKE $%d OR d.email ILIKE $%d)",
			n, n, n, n,
		))
	}
	if filter.AreaID != "" {
		args = append(args, filter.AreaID)
		conditions = append(conditions, fmt.Sprintf("d.area_id = $%d", len(args)))
	}

	query := entrySelect +
		"\nWHERE " + strings.Join(conditions, " AND ") +
		"\nORDER BY d.orden_visualizacion ASC, d.nombre_completo ASC"
	return query, args
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SearchAdvanced はbuscar_directorio関数で検索する。
func (r *PostgresDirectoryRepo) SearchAdvanced(ctx context.Context, term, areaID string) ([]*model.DirectoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, nombre_completo, puesto, area_id, area_nombre, area_clave, departamento,
		        telefono, extension, email, celular, ubicacion_oficina, orden_visualizacion
		 FROM buscar_directorio($1, $2, $3)`,
		nullIfEmpty(strings.TrimSpace(term)), nullIfEmpty(areaID), model.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search directory: %w", err)
	}
	defer rows.Close()

	var entries []*model.DirectoryEntry
	for rows.Next() {
		var (
			e       model.DirectoryEntry
			refID   sql.NullString
			refName sql.NullString
			refCode sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.FullName, &e.Position, &refID, &refName, &refCode, &e.Department,
			&e.Phone, &e.Extension, &e.Email, &e.Mobile, &e.OfficeLocation, &e.DisplayOrder,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		e.Status = model.StatusActive
		e.AreaID = nullStringPtr(refID)
		if refID.Valid {
			e.Area = &model.AreaRef{ID: refID.String, Name: refName.String, Code: refCode.String}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}

	return entries, nil
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresDirectoryRepo) FindByID(ctx context.Context, id string) (*model.DirectoryEntry, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+"\nWHERE d.id = $1", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Create はエントリを作成する。
func (r *PostgresDirectoryRepo) Create(ctx context.Context, e *model.DirectoryEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO directorio (id, nombre_completo, puesto, area_id, departamento, telefono,
		     extension, email, celular, ubicacion_oficina, foto_url, notas, orden_visualizacion,
		     estado, creado_por, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.FullName, e.Position, e.AreaID, e.Department, e.Phone,
		e.Extension, e.Email, e.Mobile, e.OfficeLocation, e.PhotoURL, e.Notes, e.DisplayOrder,
		e.Status, e.CreatedBy, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert directory entry: %w", err)
	}
	return nil
}

// Update はエントリの内容と編集者を更新する。
func (r *PostgresDirectoryRepo) Update(ctx context.Context, e *model.DirectoryEntry) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE directorio SET nombre_completo = $2, puesto = $3, area_id = $4, departamento = $5,
		     telefono = $6, extension = $7, email = $8, celular = $9, ubicacion_oficina = $10,
		     foto_url = $11, notas = $12, orden_visualizacion = $13, editado_por = $14, updated_at = $15
		 WHERE id = $1`,
		e.ID, e.FullName, e.Position, e.AreaID, e.Department,
		e.Phone, e.Extension, e.Email, e.Mobile, e.OfficeLocation,
		e.PhotoURL, e.Notes, e.DisplayOrder, e.EditedBy, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update directory entry: %w", err)
	}
	return expectOneRow(result, e.ID)
}

// SoftDelete はエントリをINACTIVOにし、編集者を記録する。
func (r *PostgresDirectoryRepo) SoftDelete(ctx context.Context, id, editorID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE directorio SET estado = $2, editado_por = $3, updated_at = $4 WHERE id = $1`,
		id, model.StatusInactive, editorID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to soft delete directory entry: %w", err)
	}
	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("directory entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanEntry(s rowScanner) (*model.DirectoryEntry, error) {
	var (
		e           model.DirectoryEntry
		areaID      sql.NullString
		createdBy   sql.NullString
		editedBy    sql.NullString
		refID       sql.NullString
		refName     sql.NullString
		refCode     sql.NullString
		creatorName sql.NullString
		editorName  sql.NullString
	)
	err := s.Scan(
		&e.ID, &e.FullName, &e.Position, &areaID, &e.Department,
		&e.Phone, &e.Extension, &e.Email, &e.Mobile, &e.OfficeLocation, &e.PhotoURL, &e.Notes,
		&e.DisplayOrder, &e.Status, &createdBy, &editedBy, &e.CreatedAt, &e.UpdatedAt,
		&refID, &refName, &refCode, &creatorName, &editorName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory entry: %w", err)
	}

	e.AreaID = nullStringPtr(areaID)
	e.CreatedBy = nullStringPtr(createdBy)
	e.EditedBy = nullStringPtr(editedBy)
	if refID.Valid {
		e.Area = &model.AreaRef{ID: refID.String, Name: refName.String, Code: refCode.String}
	}
	e.CreatorName = creatorName.String
	e.EditorName = editorName.String
	return &e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// compile-time interface check
var _ DirectoryRepository = (*PostgresDirectoryRepo)(nil)
