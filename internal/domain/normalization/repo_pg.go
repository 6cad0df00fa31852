package normalization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psyclinic/psyclinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type tableRepoPG struct{ pool *pgxpool.Pool }

func NewTableRepoPG(pool *pgxpool.Pool) TableRepository {
	return &tableRepoPG{pool: pool}
}

func (r *tableRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const tableCols = `id, name, instrument_code, description, created_at, updated_at`

const bandCols = `age_min, age_max, education_min, education_max, sex, percentiles, mean, std_dev`

func (r *tableRepoPG) scanTable(row pgx.Row) (*NormativeTable, error) {
	var t NormativeTable
	err := row.Scan(&t.ID, &t.Name, &t.InstrumentCode, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTableNotFound
	}
	return &t, err
}

func (r *tableRepoPG) Create(ctx context.Context, t *NormativeTable) error {
	t.ID = uuid.New()
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		err := c.QueryRow(ctx, `
			INSERT INTO normative_table (id, name, instrument_code, description)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at`,
			t.ID, t.Name, t.InstrumentCode, t.Description).Scan(&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert normative table: %w", err)
		}
		for i, b := range t.Bands {
			pct, err := json.Marshal(b.Percentiles)
			if err != nil {
				return fmt.Errorf("encode percentiles: %w", err)
			}
			_, err = c.Exec(ctx, `
				INSERT INTO normative_band (table_id, position, `+bandCols+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				t.ID, i, b.AgeMin, b.AgeMax, b.EducationMin, b.EducationMax, b.Sex, pct, b.Mean, b.StdDev)
			if err != nil {
				return fmt.Errorf("insert band %d: %w", i, err)
			}
		}
		return nil
	})
}

func (r *tableRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*NormativeTable, error) {
	t, err := r.scanTable(r.conn(ctx).QueryRow(ctx, `SELECT `+tableCols+` FROM normative_table WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if t.Bands, err = r.loadBands(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *tableRepoPG) loadBands(ctx context.Context, tableID uuid.UUID) ([]NormativeBand, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bandCols+` FROM normative_band WHERE table_id = $1 ORDER BY position`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bands []NormativeBand
	for rows.Next() {
		var b NormativeBand
		var pct []byte
		if err := rows.Scan(&b.AgeMin, &b.AgeMax, &b.EducationMin, &b.EducationMax, &b.Sex, &pct, &b.Mean, &b.StdDev); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pct, &b.Percentiles); err != nil {
			return nil, fmt.Errorf("decode percentiles: %w", err)
		}
		bands = append(bands, b)
	}
	return bands, rows.Err()
}

func (r *tableRepoPG) List(ctx context.Context, instrumentCode string, limit, offset int) ([]*NormativeTable, int, error) {
	query := `SELECT ` + tableCols + ` FROM normative_table WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM normative_table WHERE 1=1`
	var args []interface{}
	idx := 1
	if instrumentCode != "" {
		query += fmt.Sprintf(` AND instrument_code = $%d`, idx)
		countQuery += fmt.Sprintf(` AND instrument_code = $%d`, idx)
		args = append(args, instrumentCode)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	var items []*NormativeTable
	for rows.Next() {
		t, err := r.scanTable(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, t := range items {
		if t.Bands, err = r.loadBands(ctx, t.ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *tableRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM normative_table WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTableNotFound
	}
	return nil
}
