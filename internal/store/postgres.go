package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"shelfmark/api/internal/util"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction carried by ctx, if any, so that every call made
// inside InTx shares it.
func (s *PostgresStore) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn inside one transaction. Nested calls join the outer one.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type kindTable struct {
	table     string
	parentCol string
	labelCol  string
}

var kindTables = map[Kind]kindTable{
	KindCollection:  {table: "collections", parentCol: "", labelCol: "name"},
	KindCategory:    {table: "categories", parentCol: "collection_id", labelCol: "name"},
	KindSubcategory: {table: "subcategories", parentCol: "category_id", labelCol: "name"},
	KindItem:        {table: "items", parentCol: "subcategory_id", labelCol: "title"},
}

func tableFor(kind Kind) (kindTable, error) {
	t, ok := kindTables[kind]
	if !ok {
		return kindTable{}, fmt.Errorf("unknown kind %q", kind)
	}
	return t, nil
}

// scopeCol is the column siblings share: the parent FK, or owner_id for
// collections.
func (t kindTable) scopeCol() string {
	if t.parentCol == "" {
		return "owner_id"
	}
	return t.parentCol
}

func (t kindTable) selectColumns() string {
	parent := "''"
	if t.parentCol != "" {
		parent = t.parentCol
	}
	url := "''"
	if t.table == "items" {
		url = "url"
	}
	return fmt.Sprintf("id, %s, owner_id, %s, description, %s, order_index, created_at, updated_at", parent, t.labelCol, url)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner, kind Kind) (Entity, error) {
	item := Entity{Kind: kind}
	err := row.Scan(
		&item.ID,
		&item.ParentID,
		&item.OwnerID,
		&item.Name,
		&item.Description,
		&item.URL,
		&item.OrderIndex,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) CreateEntity(ctx context.Context, entity Entity) (Entity, error) {
	t, err := tableFor(entity.Kind)
	if err != nil {
		return Entity{}, fmt.Errorf("create entity: %w", err)
	}
	if entity.ID == "" {
		entity.ID = util.NewID(entity.Kind.idPrefix())
	}

	columns := []string{"id", "owner_id", t.labelCol, "description", "order_index"}
	args := []any{entity.ID, entity.OwnerID, entity.Name, entity.Description, entity.OrderIndex}
	if t.parentCol != "" {
		columns = append(columns, t.parentCol)
		args = append(args, entity.ParentID)
	} else {
		entity.ParentID = ""
	}
	if entity.Kind == KindItem {
		columns = append(columns, "url")
		args = append(args, entity.URL)
	} else {
		entity.URL = ""
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) RETURNING created_at, updated_at`,
		t.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)
	if err := s.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&entity.CreatedAt, &entity.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return Entity{}, fmt.Errorf("create %s: parent %s: %w", entity.Kind, entity.ParentID, ErrNotFound)
		}
		return Entity{}, fmt.Errorf("create %s: %w", entity.Kind, err)
	}
	return entity, nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, kind Kind, id string) (Entity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return Entity{}, fmt.Errorf("get entity: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, t.selectColumns(), t.table)
	item, err := scanEntity(s.conn(ctx).QueryRowContext(ctx, query, id), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("get %s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return item, nil
}

func (s *PostgresStore) GetParentOf(ctx context.Context, kind Kind, id string) (string, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", fmt.Errorf("get parent: %w", err)
	}
	if t.parentCol == "" {
		if _, err := s.GetEntity(ctx, kind, id); err != nil {
			return "", err
		}
		return "", nil
	}
	var parentID string
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, t.parentCol, t.table)
	err = s.conn(ctx).QueryRowContext(ctx, query, id).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get parent of %s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get parent of %s %s: %w", kind, id, err)
	}
	return parentID, nil
}

// GetSiblings returns the rows of kind sharing scopeID, canonically ordered.
// For collections scopeID is the owner id.
func (s *PostgresStore) GetSiblings(ctx context.Context, kind Kind, scopeID string) ([]Entity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, fmt.Errorf("list siblings: %w", err)
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s=$1 ORDER BY order_index ASC, created_at ASC, id ASC`,
		t.selectColumns(), t.table, t.scopeCol(),
	)
	rows, err := s.conn(ctx).QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.table, err)
	}
	defer rows.Close()

	items := make([]Entity, 0)
	for rows.Next() {
		item, err := scanEntity(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.table, err)
	}
	return items, nil
}

func (s *PostgresStore) WriteOrderIndex(ctx context.Context, kind Kind, id string, value int, updatedAt time.Time) error {
	t, err := tableFor(kind)
	if err != nil {
		return fmt.Errorf("write order index: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET order_index=$2, updated_at=$3 WHERE id=$1`, t.table)
	result, err := s.conn(ctx).ExecContext(ctx, query, id, value, updatedAt)
	if err != nil {
		return fmt.Errorf("write order index %s %s: %w", kind, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write order index rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("write order index %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, kind Kind, id string, patch EntityPatch) (Entity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return Entity{}, fmt.Errorf("update entity: %w", err)
	}
	sets := []string{"updated_at=NOW()"}
	args := []any{id}
	if patch.Name != nil {
		args = append(args, *patch.Name)
		sets = append(sets, fmt.Sprintf("%s=$%d", t.labelCol, len(args)))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description=$%d", len(args)))
	}
	if patch.URL != nil && kind == KindItem {
		args = append(args, *patch.URL)
		sets = append(sets, fmt.Sprintf("url=$%d", len(args)))
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$1 RETURNING %s`, t.table, strings.Join(sets, ", "), t.selectColumns())
	item, err := scanEntity(s.conn(ctx).QueryRowContext(ctx, query, args...), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("update %s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	return item, nil
}

// DeleteEntity removes the row; descendants go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteEntity(ctx context.Context, kind Kind, id string) error {
	t, err := tableFor(kind)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	result, err := s.conn(ctx).ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, t.table), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s rows: %w", kind, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, LOWER(TRIM($2)), $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("create user: email %s already registered", user.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE email = LOWER(TRIM($1))`, email)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (User, error) {
	var user User
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users `+where, arg).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.conn(ctx).QueryRowContext(ctx, query, tokenHash).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("refresh session: %w", ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
