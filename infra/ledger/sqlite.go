// Package ledger persists the revenue ledger in SQLite. Amount columns are
// merged additively on conflict so concurrent settlements of the same
// period bucket never lose money; rolling averages are kept as sums and
// divided on read.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
)

// SQLiteStore persists revenue records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS revenue_ledger (
        id TEXT NOT NULL,
        user_id TEXT NOT NULL,
        pool_id TEXT NOT NULL,
        period INTEGER NOT NULL,
        period_start INTEGER NOT NULL,
        period_end INTEGER NOT NULL,
        gross REAL NOT NULL DEFAULT 0,
        platform_fee REAL NOT NULL DEFAULT 0,
        operator_fee REAL NOT NULL DEFAULT 0,
        net REAL NOT NULL DEFAULT 0,
        energy_cad REAL NOT NULL DEFAULT 0,
        capacity_cad REAL NOT NULL DEFAULT 0,
        ancillary_cad REAL NOT NULL DEFAULT 0,
        dispatches INTEGER NOT NULL DEFAULT 0,
        energy_kwh REAL NOT NULL DEFAULT 0,
        power_sum REAL NOT NULL DEFAULT 0,
        availability_sum REAL NOT NULL DEFAULT 0,
        utilization_sum REAL NOT NULL DEFAULT 0,
        reliability_sum REAL NOT NULL DEFAULT 0,
        payment INTEGER NOT NULL DEFAULT 0,
        paid_at INTEGER,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL,
        PRIMARY KEY(user_id, pool_id, period, period_start)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

var _ store.RevenueStore = (*SQLiteStore)(nil)

const recordColumns = `id, user_id, pool_id, period, period_start, period_end,
    gross, platform_fee, operator_fee, net,
    energy_cad, capacity_cad, ancillary_cad,
    dispatches, energy_kwh, power_sum, availability_sum, utilization_sum, reliability_sum,
    payment, paid_at, created_at, updated_at`

// Get returns the record for key.
func (s *SQLiteStore) Get(ctx context.Context, key model.RevenueKey) (*model.RevenueRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM revenue_ledger
        WHERE user_id = ? AND pool_id = ? AND period = ? AND period_start = ?`,
		key.UserID, key.PoolID, int(key.Period), key.PeriodStart.Unix())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, faults.NotFoundf("revenue record for user %s pool %s %s %s not found",
			key.UserID, key.PoolID, key.Period, key.PeriodStart.Format("2006-01-02"))
	}
	return rec, err
}

// Merge inserts or additively updates the record for key.
func (s *SQLiteStore) Merge(ctx context.Context, key model.RevenueKey, periodEnd time.Time, delta store.RevenueDelta) (*model.RevenueRecord, error) {
	now := time.Now().Unix()
	n := float64(delta.Dispatches)
	_, err := s.db.ExecContext(ctx, `INSERT INTO revenue_ledger (
            id, user_id, pool_id, period, period_start, period_end,
            gross, platform_fee, operator_fee, net,
            energy_cad, capacity_cad, ancillary_cad,
            dispatches, energy_kwh, power_sum, availability_sum, utilization_sum, reliability_sum,
            payment, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id, pool_id, period, period_start) DO UPDATE SET
            gross = gross + excluded.gross,
            platform_fee = platform_fee + excluded.platform_fee,
            operator_fee = operator_fee + excluded.operator_fee,
            net = net + excluded.net,
            energy_cad = energy_cad + excluded.energy_cad,
            capacity_cad = capacity_cad + excluded.capacity_cad,
            ancillary_cad = ancillary_cad + excluded.ancillary_cad,
            dispatches = dispatches + excluded.dispatches,
            energy_kwh = energy_kwh + excluded.energy_kwh,
            power_sum = power_sum + excluded.power_sum,
            availability_sum = availability_sum + excluded.availability_sum,
            utilization_sum = utilization_sum + excluded.utilization_sum,
            reliability_sum = reliability_sum + excluded.reliability_sum,
            updated_at = excluded.updated_at`,
		uuid.NewString(), key.UserID, key.PoolID, int(key.Period), key.PeriodStart.Unix(), periodEnd.Unix(),
		delta.GrossCAD, delta.PlatformFeeCAD, delta.OperatorFeeCAD, delta.NetCAD,
		delta.EnergyCAD, delta.CapacityCAD, delta.AncillaryCAD,
		delta.Dispatches, delta.EnergyKWh, delta.AbsPowerKW,
		delta.AvailabilityPct*n, delta.UtilizationPct*n, delta.ReliabilityPct*n,
		int(model.PaymentAccruing), now, now)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, key)
}

// UpdatePayment applies fn to the stored record inside a transaction. If fn
// returns an error nothing is written.
func (s *SQLiteStore) UpdatePayment(ctx context.Context, key model.RevenueKey, fn func(*model.RevenueRecord) error) (*model.RevenueRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM revenue_ledger
        WHERE user_id = ? AND pool_id = ? AND period = ? AND period_start = ?`,
		key.UserID, key.PoolID, int(key.Period), key.PeriodStart.Unix())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, faults.NotFoundf("revenue record for user %s pool %s %s %s not found",
			key.UserID, key.PoolID, key.Period, key.PeriodStart.Format("2006-01-02"))
	}
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}

	var paidAt any
	if rec.PaidAt != nil {
		paidAt = rec.PaidAt.Unix()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE revenue_ledger
        SET payment = ?, paid_at = ?, updated_at = ?
        WHERE user_id = ? AND pool_id = ? AND period = ? AND period_start = ?`,
		int(rec.Payment), paidAt, time.Now().Unix(),
		key.UserID, key.PoolID, int(key.Period), key.PeriodStart.Unix()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Query returns records matching the filter ordered by period start.
func (s *SQLiteStore) Query(ctx context.Context, f store.RevenueFilter) ([]*model.RevenueRecord, error) {
	var conds []string
	var args []any
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.PoolID != "" {
		conds = append(conds, "pool_id = ?")
		args = append(args, f.PoolID)
	}
	if f.Period != nil {
		conds = append(conds, "period = ?")
		args = append(args, int(*f.Period))
	}
	if f.Payment != nil {
		conds = append(conds, "payment = ?")
		args = append(args, int(*f.Payment))
	}
	if !f.From.IsZero() {
		conds = append(conds, "period_start >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		conds = append(conds, "period_start < ?")
		args = append(args, f.To.Unix())
	}
	query := `SELECT ` + recordColumns + ` FROM revenue_ledger`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY period_start, pool_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.RevenueRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.RevenueRecord, error) {
	var (
		rec                                    model.RevenueRecord
		period, payment                        int
		periodStart, periodEnd, created, updat int64
		paidAt                                 sql.NullInt64
		powerSum, availSum, utilSum, relSum    float64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.PoolID, &period, &periodStart, &periodEnd,
		&rec.GrossCAD, &rec.PlatformFeeCAD, &rec.OperatorFeeCAD, &rec.NetCAD,
		&rec.Breakdown.EnergyCAD, &rec.Breakdown.CapacityCAD, &rec.Breakdown.AncillaryCAD,
		&rec.DispatchCount, &rec.EnergyKWh, &powerSum, &availSum, &utilSum, &relSum,
		&payment, &paidAt, &created, &updat); err != nil {
		return nil, err
	}
	rec.Period = model.PeriodType(period)
	rec.Payment = model.PaymentStatus(payment)
	rec.PeriodStart = time.Unix(periodStart, 0)
	rec.PeriodEnd = time.Unix(periodEnd, 0)
	rec.CreatedAt = time.Unix(created, 0)
	rec.UpdatedAt = time.Unix(updat, 0)
	if paidAt.Valid {
		t := time.Unix(paidAt.Int64, 0)
		rec.PaidAt = &t
	}
	if rec.DispatchCount > 0 {
		n := float64(rec.DispatchCount)
		rec.AvgPowerKW = round3(powerSum / n)
		rec.AvailabilityPct = round3(availSum / n)
		rec.UtilizationPct = round3(utilSum / n)
		rec.ReliabilityPct = round3(relSum / n)
	}
	return &rec, nil
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// Backend selects the ledger implementation from configuration.
func Backend(backend, path string) (store.RevenueStore, error) {
	switch backend {
	case "", "memory":
		return store.NewMemoryRevenueStore(), nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("ledger: sqlite backend requires a path")
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("ledger: unknown backend %q", backend)
	}
}
