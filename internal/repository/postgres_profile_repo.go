package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aifa/directorio/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindActiveByID はACTIVOのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindActiveByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, nombre_completo, rol_principal, estado, created_at, updated_at
		 FROM perfiles WHERE id = $1 AND estado = $2`,
		id, model.StatusActive,
	).Scan(&p.ID, &p.FullName, &p.Role, &p.Status, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active profile: %w", err)
	}

	return p, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
