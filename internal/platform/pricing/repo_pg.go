package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/inpatient/internal/platform/db"
)

// PriceListPG resolves rates from the local item_price table. It serves
// deployments without an external price list service.
type PriceListPG struct {
	pool *pgxpool.Pool
}

func NewPriceListPG(pool *pgxpool.Pool) *PriceListPG {
	return &PriceListPG{pool: pool}
}

func (p *PriceListPG) ItemRate(ctx context.Context, q Query) (decimal.Decimal, error) {
	var row pgx.Row
	const query = `SELECT rate FROM item_price
		WHERE item_code = $1 AND price_list = $2 AND (currency = $3 OR $3 = '')
		ORDER BY valid_from DESC NULLS LAST LIMIT 1`
	if tx := db.TxFromContext(ctx); tx != nil {
		row = tx.QueryRow(ctx, query, q.ItemCode, q.PriceList, q.Currency)
	} else if c := db.ConnFromContext(ctx); c != nil {
		row = c.QueryRow(ctx, query, q.ItemCode, q.PriceList, q.Currency)
	} else {
		row = p.pool.QueryRow(ctx, query, q.ItemCode, q.PriceList, q.Currency)
	}

	var rate decimal.Decimal
	if err := row.Scan(&rate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %s in %s", ErrNoPrice, q.ItemCode, q.PriceList)
		}
		return decimal.Zero, fmt.Errorf("query item price: %w", err)
	}
	return rate, nil
}
