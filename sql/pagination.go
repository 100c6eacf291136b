package sqlstore

import (
	"database/sql"

	"storefront"
)

// SQLPaginator applies keyset pagination on id to SELECT statements.
type SQLPaginator struct {
	*storefront.Paginator
}

// NewSQLPaginator creates a new SQL-specific paginator.
func NewSQLPaginator() *SQLPaginator {
	return &SQLPaginator{Paginator: storefront.NewPaginator()}
}

// NewSQLPaginatorWithConfig creates a new SQL paginator with custom config.
func NewSQLPaginatorWithConfig(config storefront.PaginationConfig) *SQLPaginator {
	return &SQLPaginator{Paginator: storefront.NewPaginatorWithConfig(config)}
}

// ApplyToQueryBuilder orders by id and resumes after the cursor. When the
// rows are filtered after scanning, no LIMIT can be pushed down and limit
// should be false.
func (p *SQLPaginator) ApplyToQueryBuilder(qb *QueryBuilder, params storefront.CursorParams, limit bool) *QueryBuilder {
	if params.AfterID != "" {
		qb = qb.Where("id", ">", params.AfterID)
	}
	qb = qb.OrderByAsc("id")
	if limit {
		// One extra row tells whether another page exists.
		qb = qb.Limit(int(params.PageSize) + 1)
	}
	return qb
}

// CollectPage scans rows until one more matching item than the page size
// is found, and builds the page from them.
func (p *SQLPaginator) CollectPage(
	rows *sql.Rows,
	params storefront.CursorParams,
	scan func(*sql.Rows) (storefront.Entity, error),
	keep func(storefront.Entity) bool,
) (storefront.Page, error) {
	items := make([]storefront.Entity, 0, params.PageSize)
	hasMore := false
	for rows.Next() {
		ent, err := scan(rows)
		if err != nil {
			return storefront.Page{}, err
		}
		if keep != nil && !keep(ent) {
			continue
		}
		if int32(len(items)) == params.PageSize {
			hasMore = true
			break
		}
		items = append(items, ent)
	}
	if err := rows.Err(); err != nil {
		return storefront.Page{}, err
	}
	return p.BuildPage(items, params, hasMore)
}
