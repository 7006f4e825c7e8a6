package sqlstore

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/storefront/internal/app/domain/user"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

const userColumns = `id, email, name, role, password_hash, active, last_login_at, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = now()
	u.UpdatedAt = u.CreatedAt

	db, release := s.db.Acquire()
	defer release()

	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Email, u.Name, u.Role, u.PasswordHash, u.Active, u.LastLoginAt, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, writeErr(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.UpdatedAt = now()

	var stored user.User
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current user.User
		if err := tx.GetContext(ctx, &current, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), u.ID); err != nil {
			return readErr(err)
		}
		if current.IsActiveAdmin() && !u.IsActiveAdmin() {
			if err := s.requireOtherAdmin(ctx, tx, u.ID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE users
			SET email = ?, name = ?, role = ?, password_hash = ?, active = ?, last_login_at = ?, updated_at = ?
			WHERE id = ?
		`), u.Email, u.Name, u.Role, u.PasswordHash, u.Active, u.LastLoginAt, u.UpdatedAt, u.ID); err != nil {
			return writeErr(err)
		}
		return readErr(tx.GetContext(ctx, &stored, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), u.ID))
	})
	if err != nil {
		return user.User{}, err
	}
	return stored, nil
}

func (s *Store) getUser(ctx context.Context, cond, arg string) (user.User, error) {
	db, release := s.db.Acquire()
	defer release()

	var u user.User
	if err := db.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE `+cond), arg); err != nil {
		return user.User{}, readErr(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.getUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	db, release := s.db.Acquire()
	defer release()

	result := []user.User{}
	if err := db.SelectContext(ctx, &result, `SELECT `+userColumns+` FROM users ORDER BY email`); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current user.User
		if err := tx.GetContext(ctx, &current, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id); err != nil {
			return readErr(err)
		}
		if current.IsActiveAdmin() {
			if err := s.requireOtherAdmin(ctx, tx, id); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), id)
		return err
	})
}

// requireOtherAdmin locks the active admin rows so concurrent demotions
// serialize on PostgreSQL. SQLite runs on a single connection and needs no
// row locks.
func (s *Store) requireOtherAdmin(ctx context.Context, tx *sqlx.Tx, id string) error {
	query := `SELECT id FROM users WHERE active = ? AND role = ?`
	if !s.db.IsSQLite() {
		query += ` FOR UPDATE`
	}
	var ids []string
	if err := tx.SelectContext(ctx, &ids, s.q(query), true, user.RoleAdmin); err != nil {
		return err
	}
	for _, other := range ids {
		if other != id {
			return nil
		}
	}
	return storage.ErrLastAdmin
}
