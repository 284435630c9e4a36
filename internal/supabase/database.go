package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"photo-orders-bot/internal/database"
	"photo-orders-bot/internal/models"
)

// DatabaseClient is the Postgres order store.
type DatabaseClient struct {
	db *sql.DB
}

// NewDatabaseClient opens the pool without pinging; callers wait for the
// database with Ping so startup survives an unreachable server.
func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &DatabaseClient{db: db}, nil
}

// NewDatabaseClientFromDB wraps an existing pool.
func NewDatabaseClientFromDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	var status string
	err := row.Scan(
		&o.ID, &o.Description, &status, &o.RequesterID, &o.PerformerID, &o.ResultPhotoCount,
		&o.RevisionComment, &o.DeclineReason, &o.DeclinedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = models.Status(status)
	return o, err
}

func scanRequester(row rowScanner) (models.Requester, error) {
	var r models.Requester
	err := row.Scan(&r.ID, &r.PlatformID, &r.Name, &r.Surname, &r.Address, &r.Banned, &r.CreatedAt)
	return r, err
}

func scanPerformer(row rowScanner) (models.Performer, error) {
	var p models.Performer
	err := row.Scan(&p.ID, &p.PlatformID, &p.Name, &p.OrderPrice, &p.CreatedAt)
	return p, err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func (d *DatabaseClient) ResolveActor(ctx context.Context, platformID int64) (models.Actor, error) {
	r, err := scanRequester(d.db.QueryRowContext(ctx, database.QueryRequesterByPlatformID, platformID))
	switch {
	case err == nil:
		return models.Actor{PlatformID: platformID, Role: models.RoleRequester, ID: r.ID, Name: r.FullName(), Banned: r.Banned}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.Actor{}, fmt.Errorf("failed to resolve requester: %w", err)
	}

	p, err := scanPerformer(d.db.QueryRowContext(ctx, database.QueryPerformerByPlatformID, platformID))
	switch {
	case err == nil:
		return models.Actor{PlatformID: platformID, Role: models.RolePerformer, ID: p.ID, Name: p.Name}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.Actor{}, fmt.Errorf("failed to resolve performer: %w", err)
	}

	return models.Actor{PlatformID: platformID, Role: models.RoleUnknown}, nil
}

func (d *DatabaseClient) GetRequester(ctx context.Context, id int64) (*models.Requester, error) {
	r, err := scanRequester(d.db.QueryRowContext(ctx, database.QueryRequesterByID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get requester: %w", notFound(err))
	}
	return &r, nil
}

func (d *DatabaseClient) GetPerformer(ctx context.Context, id int64) (*models.Performer, error) {
	p, err := scanPerformer(d.db.QueryRowContext(ctx, database.QueryPerformerByID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get performer: %w", notFound(err))
	}
	return &p, nil
}

func (d *DatabaseClient) ListPerformers(ctx context.Context) ([]models.Performer, error) {
	rows, err := d.db.QueryContext(ctx, database.QueryListPerformers)
	if err != nil {
		return nil, fmt.Errorf("failed to list performers: %w", err)
	}
	defer rows.Close()

	var performers []models.Performer
	for rows.Next() {
		p, err := scanPerformer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan performer: %w", err)
		}
		performers = append(performers, p)
	}
	return performers, rows.Err()
}

// CreateOrder stores the order in the submitted state together with its
// round-zero photos.
func (d *DatabaseClient) CreateOrder(ctx context.Context, requesterID int64, description string, photoRefs []string) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var orderID int64
	if err := tx.QueryRowContext(ctx, database.QueryInsertOrder,
		description, string(models.StatusSubmitted), requesterID,
	).Scan(&orderID); err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	for i, ref := range photoRefs {
		if _, err := tx.ExecContext(ctx, database.QueryInsertPhoto, orderID, i+1, models.RoundSubmission, ref); err != nil {
			return 0, fmt.Errorf("failed to insert order photo: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit order: %w", err)
	}
	return orderID, nil
}

// TryTransition moves the order from expected to next in one transaction.
// It returns false with a nil error when the row no longer reads expected.
func (d *DatabaseClient) TryTransition(ctx context.Context, orderID int64, expected, next models.Status, m models.Mutation) (bool, error) {
	if err := models.ValidateTransition(expected, next); err != nil {
		return false, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, database.QueryLockOrderStatus, orderID).Scan(&current); err != nil {
		return false, fmt.Errorf("failed to lock order: %w", notFound(err))
	}
	if models.Status(current) != expected {
		return false, nil
	}

	if m.ExclusivePerformer && m.PerformerID != nil {
		var locked int64
		if err := tx.QueryRowContext(ctx, database.QueryLockPerformer, *m.PerformerID).Scan(&locked); err != nil {
			return false, fmt.Errorf("failed to lock performer: %w", notFound(err))
		}
		var active int
		if err := tx.QueryRowContext(ctx, database.QueryCountInProgress, *m.PerformerID).Scan(&active); err != nil {
			return false, fmt.Errorf("failed to count active orders: %w", err)
		}
		if active > 0 {
			return false, models.ErrPerformerBusy
		}
	}

	res, err := tx.ExecContext(ctx, database.QueryTransitionOrder,
		orderID,
		string(next),
		nullInt64(m.PerformerID),
		nullInt(m.ResultPhotoCount),
		nullString(m.RevisionComment),
		nullString(m.DeclineReason),
		nullInt64(m.DeclinedBy),
		string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if len(m.AppendPhotos) > 0 {
		var seq, round int
		if err := tx.QueryRowContext(ctx, database.QueryPhotoCursor, orderID).Scan(&seq, &round); err != nil {
			return false, fmt.Errorf("failed to read photo cursor: %w", err)
		}
		for _, ref := range m.AppendPhotos {
			seq++
			if _, err := tx.ExecContext(ctx, database.QueryInsertPhoto, orderID, seq, round+1, ref); err != nil {
				return false, fmt.Errorf("failed to insert order photo: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}
	return true, nil
}

func (d *DatabaseClient) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := scanOrder(d.db.QueryRowContext(ctx, database.QueryGetOrder, orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", notFound(err))
	}
	return &o, nil
}

func (d *DatabaseClient) ListOrderPhotos(ctx context.Context, orderID int64) ([]models.OrderPhoto, error) {
	rows, err := d.db.QueryContext(ctx, database.QueryListPhotos, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order photos: %w", err)
	}
	defer rows.Close()

	var photos []models.OrderPhoto
	for rows.Next() {
		var p models.OrderPhoto
		if err := rows.Scan(&p.OrderID, &p.Seq, &p.Round, &p.MediaRef); err != nil {
			return nil, fmt.Errorf("failed to scan order photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func (d *DatabaseClient) ListOrdersByStatus(ctx context.Context, status models.Status) ([]models.Order, error) {
	return d.queryOrders(ctx, database.QueryOrdersByStatus, string(status))
}

func (d *DatabaseClient) ListRequesterOrders(ctx context.Context, requesterID int64, status models.Status) ([]models.Order, error) {
	return d.queryOrders(ctx, database.QueryRequesterOrders, requesterID, string(status))
}

func (d *DatabaseClient) ListOverdueUnclaimedOrders(ctx context.Context, createdBefore time.Time) ([]models.Order, error) {
	return d.queryOrders(ctx, database.QueryOverdueUnclaimed, createdBefore)
}

func (d *DatabaseClient) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (d *DatabaseClient) CountActiveOrdersForPerformer(ctx context.Context, performerID int64) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, database.QueryCountInProgress, performerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active orders: %w", err)
	}
	return n, nil
}

func (d *DatabaseClient) ListMessageIndices(ctx context.Context, orderID int64) ([]models.MessageIndex, error) {
	rows, err := d.db.QueryContext(ctx, database.QueryListMessages, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message indices: %w", err)
	}
	defer rows.Close()

	var out []models.MessageIndex
	for rows.Next() {
		var mi models.MessageIndex
		if err := rows.Scan(&mi.OrderID, &mi.PerformerID, &mi.Ref.ChatID, &mi.Ref.MessageID); err != nil {
			return nil, fmt.Errorf("failed to scan message index: %w", err)
		}
		out = append(out, mi)
	}
	return out, rows.Err()
}

func (d *DatabaseClient) RecordMessageIndex(ctx context.Context, orderID, performerID int64, ref models.MessageRef) error {
	if _, err := d.db.ExecContext(ctx, database.QueryInsertMessage, orderID, performerID, ref.ChatID, ref.MessageID); err != nil {
		return fmt.Errorf("failed to record message index: %w", err)
	}
	return nil
}

func (d *DatabaseClient) UpsertPendingInteraction(ctx context.Context, p models.PendingInteraction) error {
	if _, err := d.db.ExecContext(ctx, database.QueryUpsertPending, p.OrderID, p.ActorID, string(p.Kind), p.Payload); err != nil {
		return fmt.Errorf("failed to upsert pending interaction: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetPendingInteraction(ctx context.Context, orderID int64) (*models.PendingInteraction, error) {
	var p models.PendingInteraction
	var kind string
	err := d.db.QueryRowContext(ctx, database.QueryGetPending, orderID).Scan(
		&p.OrderID, &p.ActorID, &kind, &p.Payload, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending interaction: %w", notFound(err))
	}
	p.Kind = models.InteractionKind(kind)
	return &p, nil
}

func (d *DatabaseClient) DeletePendingInteraction(ctx context.Context, orderID int64) error {
	if _, err := d.db.ExecContext(ctx, database.QueryDeletePending, orderID); err != nil {
		return fmt.Errorf("failed to delete pending interaction: %w", err)
	}
	return nil
}

func (d *DatabaseClient) ListCompletedForReport(ctx context.Context) ([]models.ReportRow, error) {
	rows, err := d.db.QueryContext(ctx, database.QueryCompletedReport)
	if err != nil {
		return nil, fmt.Errorf("failed to query report rows: %w", err)
	}
	defer rows.Close()

	var out []models.ReportRow
	for rows.Next() {
		var r models.ReportRow
		if err := rows.Scan(
			&r.OrderID, &r.CreatedAt, &r.ResultPhotoCount,
			&r.RequesterID, &r.RequesterPlatformID, &r.RequesterName, &r.RequesterSurname, &r.RequesterAddress,
			&r.PerformerID, &r.PerformerName, &r.OrderPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
