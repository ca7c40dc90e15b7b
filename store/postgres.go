package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Postgres is a Store backed by the tenants/subscriptions tables.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with dsn, verifies the connection and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an already migrated connection.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureTenant(ctx context.Context, ex execer, tenant string) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO tenants (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`, tenant)
	if err != nil {
		return fmt.Errorf("ensure tenant %s: %w", tenant, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Add implements Store.
func (p *Postgres) Add(ctx context.Context, tenant string, sub Subscription) error {
	sub = sub.Normalized()
	var role1, role2 string
	if len(sub.RoleIDs) > 0 {
		role1 = sub.RoleIDs[0]
	}
	if len(sub.RoleIDs) > 1 {
		role2 = sub.RoleIDs[1]
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureTenant(ctx, tx, tenant); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO subscriptions (tenant_id, twitch_name, channel_id, role_id, role_id2, last_stream_id)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (tenant_id, twitch_name, channel_id) DO NOTHING`,
		tenant, sub.TwitchName, sub.ChannelID, nullable(role1), nullable(role2), sub.LastStreamID)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return tx.Commit()
}

// RemoveByChannel implements Store.
func (p *Postgres) RemoveByChannel(ctx context.Context, tenant, twitchName string) (int, error) {
	if err := ensureTenant(ctx, p.db, tenant); err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND twitch_name=$2`, tenant, NormalizeName(twitchName))
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return int(n), nil
}

const selectColumns = `twitch_name, channel_id, role_id, role_id2, last_stream_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (Subscription, error) {
	var (
		sub          Subscription
		role1, role2 sql.NullString
		last         sql.NullString
	)
	if err := row.Scan(&sub.TwitchName, &sub.ChannelID, &role1, &role2, &last); err != nil {
		return Subscription{}, err
	}
	sub.RoleIDs = NormalizeRoles([]string{role1.String, role2.String})
	if last.Valid {
		id := last.String
		sub.LastStreamID = &id
	}
	return sub, nil
}

// List implements Store.
func (p *Postgres) List(ctx context.Context, tenant string) ([]Subscription, error) {
	if err := ensureTenant(ctx, p.db, tenant); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE tenant_id=$1 ORDER BY id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	out := []Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Find implements Store.
func (p *Postgres) Find(ctx context.Context, tenant, twitchName, channelID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE tenant_id=$1 AND twitch_name=$2 AND channel_id=$3`,
		tenant, NormalizeName(twitchName), channelID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}

// Snapshot implements Store.
func (p *Postgres) Snapshot(ctx context.Context) ([]TenantSubscriptions, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT tenant_id, `+selectColumns+` FROM subscriptions ORDER BY tenant_id, id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot subscriptions: %w", err)
	}
	defer rows.Close()
	var out []TenantSubscriptions
	for rows.Next() {
		var (
			tenant       string
			sub          Subscription
			role1, role2 sql.NullString
			last         sql.NullString
		)
		if err := rows.Scan(&tenant, &sub.TwitchName, &sub.ChannelID, &role1, &role2, &last); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.RoleIDs = NormalizeRoles([]string{role1.String, role2.String})
		if last.Valid {
			id := last.String
			sub.LastStreamID = &id
		}
		if len(out) == 0 || out[len(out)-1].TenantID != tenant {
			out = append(out, TenantSubscriptions{TenantID: tenant})
		}
		out[len(out)-1].Subscriptions = append(out[len(out)-1].Subscriptions, sub)
	}
	return out, rows.Err()
}

// SetLastStreamID implements Store.
func (p *Postgres) SetLastStreamID(ctx context.Context, tenant, twitchName, channelID string, streamID *string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE subscriptions SET last_stream_id=$1, updated_at=NOW() WHERE tenant_id=$2 AND twitch_name=$3 AND channel_id=$4`,
		streamID, tenant, twitchName, channelID)
	if err != nil {
		return fmt.Errorf("update last stream id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update last stream id: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Close implements Store.
func (p *Postgres) Close() error { return p.db.Close() }
