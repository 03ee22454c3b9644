package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, full_name, first_name, last_name, phone, university, location,
		        avatar_url, created_at, updated_at`

func scanProfile(s rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var firstName, lastName, phone, university, location, avatarURL sql.NullString
	if err := s.Scan(
		&p.ID, &p.FullName, &firstName, &lastName, &phone, &university, &location,
		&avatarURL, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.FirstName = nullStringValue(firstName)
	p.LastName = nullStringValue(lastName)
	p.Phone = nullStringValue(phone)
	p.University = nullStringValue(university)
	p.Location = nullStringValue(location)
	p.AvatarURL = nullStringValue(avatarURL)
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	if !validID(id) {
		return nil, nil
	}
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// Update はプロフィールを更新し、更新後の値を返す。対象が存在しない場合はnilを返す。
func (r *PostgresProfileRepo) Update(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	if !validID(profile.ID) {
		return nil, nil
	}
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`UPDATE profiles SET
		    full_name = $2, first_name = $3, last_name = $4, phone = $5,
		    university = $6, location = $7, avatar_url = $8, updated_at = now()
		 WHERE id = $1
		 RETURNING `+profileColumns,
		profile.ID, profile.FullName, nullString(profile.FirstName), nullString(profile.LastName),
		nullString(profile.Phone), nullString(profile.University), nullString(profile.Location),
		nullString(profile.AvatarURL),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
