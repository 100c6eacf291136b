package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storefront"
	"storefront/sql/adapter"
)

// TableName is the single table every kind is stored in.
const TableName = "entities"

var entityColumns = []string{"id", "kind", "slug", "unique_key", "fields", "version", "created_at", "updated_at"}

// Repository is the raw access path: hand-built statements over the
// entities table. It enforces the unique indexes through the database and
// does not validate fields against the catalog schemas.
type Repository struct {
	*storefront.RepositoryBase
	service *Service

	transactionHandler *TransactionHandler
	queryExecutor      *QueryExecutor
	paginator          *SQLPaginator
}

// Ensure Repository implements storefront.Repository.
var _ storefront.Repository = (*Repository)(nil)

// NewRepository creates the raw repository over service's pool.
func NewRepository(service *Service) *Repository {
	repo := &Repository{
		RepositoryBase:     storefront.NewRepositoryBase("sql"),
		service:            service,
		transactionHandler: NewTransactionHandler(service.db, service.adapter),
		queryExecutor:      NewQueryExecutor(service.db),
		paginator:          NewSQLPaginator(),
	}
	// DATETIME(6) and TIMESTAMPTZ keep microseconds.
	repo.SetClock(func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) })
	return repo
}

// Create inserts ent with version 1. A retried create whose row already
// landed returns the stored row.
func (r *Repository) Create(ctx context.Context, ent storefront.Entity) (storefront.Entity, error) {
	if err := r.ValidateEntity(ent); err != nil {
		return storefront.Entity{}, err
	}
	fields, err := storefront.NormalizeFields(ent.Fields)
	if err != nil {
		return storefront.Entity{}, err
	}
	data, err := storefront.EncodeFields(fields)
	if err != nil {
		return storefront.Entity{}, err
	}
	ent.Fields = fields
	ent.Version = 1
	ent.Placeholder = false
	r.SetTimestamps(&ent, true)

	ib := r.Insert().
		Value("id", ent.ID).
		Value("kind", string(ent.Kind)).
		Value("slug", nullString(ent.Slug)).
		Value("unique_key", nullString(ent.UniqueKey)).
		Value("fields", string(data)).
		Value("version", ent.Version).
		Value("created_at", ent.CreatedAt).
		Value("updated_at", ent.UpdatedAt)

	if _, err := r.queryExecutor.ExecuteInsert(ctx, ib); err != nil {
		classified := r.classify(err, ent.Kind, "create", ent.ID)
		if storefront.DuplicateField(classified) == adapter.ColumnID {
			if stored, getErr := r.Get(ctx, ent.Kind, ent.ID); getErr == nil && storefront.SameWrite(stored, ent) {
				return stored, nil
			}
		}
		return storefront.Entity{}, r.HandleUpdateError(classified, ent.Kind, "create", ent.ID)
	}
	return ent, nil
}

// Get returns the entity of kind with the given ID.
func (r *Repository) Get(ctx context.Context, kind storefront.Kind, id string) (storefront.Entity, error) {
	if err := r.ValidateID(id); err != nil {
		return storefront.Entity{}, err
	}
	return r.getBy(ctx, kind, "id", id, "get")
}

// GetBySlug returns the entity of kind with the given slug.
func (r *Repository) GetBySlug(ctx context.Context, kind storefront.Kind, slug string) (storefront.Entity, error) {
	if slug == "" {
		return storefront.Entity{}, storefront.NewValidationErrorForField("slug", slug, "slug cannot be empty")
	}
	return r.getBy(ctx, kind, "slug", slug, "get_by_slug")
}

// GetByUniqueKey returns the entity of kind whose unique_key column is key.
func (r *Repository) GetByUniqueKey(ctx context.Context, kind storefront.Kind, key string) (storefront.Entity, error) {
	if key == "" {
		return storefront.Entity{}, storefront.NewValidationErrorForField("unique_key", key, "unique key cannot be empty")
	}
	return r.getBy(ctx, kind, "unique_key", key, "get_by_unique_key")
}

func (r *Repository) getBy(ctx context.Context, kind storefront.Kind, column, value, operation string) (storefront.Entity, error) {
	qb := r.Find().WhereEq("kind", string(kind)).WhereEq(column, value)
	ent, err := scanEntity(r.queryExecutor.QueryRow(ctx, qb))
	if errors.Is(err, sql.ErrNoRows) {
		return storefront.Entity{}, storefront.NewRecordNotFoundError(kind, value)
	}
	if err != nil {
		return storefront.Entity{}, r.HandleGetError(r.classify(err, kind, operation, value), kind, operation, value)
	}
	return ent, nil
}

// List returns one page of entities of kind in ID order. Conditions are
// evaluated on the decoded fields.
func (r *Repository) List(ctx context.Context, kind storefront.Kind, filter storefront.Filter) (storefront.Page, error) {
	params, err := r.paginator.ParseParams(filter)
	if err != nil {
		return storefront.Page{}, err
	}

	filtered := len(filter.Conditions) > 0
	qb := r.paginator.ApplyToQueryBuilder(r.Find().WhereEq("kind", string(kind)), params, !filtered)

	rows, err := r.queryExecutor.Query(ctx, qb)
	if err != nil {
		return storefront.Page{}, r.HandleQueryError(r.classify(err, kind, "list", ""), kind, "list", nil)
	}
	defer rows.Close()

	var keep func(storefront.Entity) bool
	if filtered {
		keep = filter.Match
	}
	page, err := r.paginator.CollectPage(rows, params, scanEntityRows, keep)
	if err != nil {
		return storefront.Page{}, r.HandleQueryError(r.classify(err, kind, "list", ""), kind, "list", nil)
	}
	return page, nil
}

// Update replaces the fields, slug and unique key of ent if the stored
// version equals expectedVersion. An empty slug keeps the stored one.
func (r *Repository) Update(ctx context.Context, ent storefront.Entity, expectedVersion int64) (storefront.Entity, error) {
	if err := r.ValidateEntity(ent); err != nil {
		return storefront.Entity{}, err
	}
	fields, err := storefront.NormalizeFields(ent.Fields)
	if err != nil {
		return storefront.Entity{}, err
	}
	data, err := storefront.EncodeFields(fields)
	if err != nil {
		return storefront.Entity{}, err
	}

	var updated storefront.Entity
	err = r.transactionHandler.WithTx(ctx, func(ctxTx context.Context) error {
		current, err := r.Get(ctxTx, ent.Kind, ent.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return &storefront.VersionConflictError{
				Kind: ent.Kind, ID: ent.ID, Expected: expectedVersion, Actual: current.Version,
			}
		}

		slug := current.Slug
		if ent.Slug != "" {
			slug = ent.Slug
		}
		now := r.Now()

		ub := r.Modify().
			Set("slug", nullString(slug)).
			Set("unique_key", nullString(ent.UniqueKey)).
			Set("fields", string(data)).
			SetExpr("version", "version + 1").
			Set("updated_at", now).
			WhereEq("id", ent.ID).
			WhereEq("kind", string(ent.Kind)).
			WhereEq("version", expectedVersion)

		res, err := r.queryExecutor.ExecuteUpdate(ctxTx, ub)
		if err != nil {
			return r.classify(err, ent.Kind, "update", ent.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &storefront.VersionConflictError{Kind: ent.Kind, ID: ent.ID, Expected: expectedVersion}
		}

		updated = current
		updated.Slug = slug
		updated.UniqueKey = ent.UniqueKey
		updated.Fields = fields
		updated.Version = expectedVersion + 1
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		if storefront.IsRecordNotFoundError(err) || storefront.IsVersionConflict(err) {
			return storefront.Entity{}, err
		}
		return storefront.Entity{}, r.HandleUpdateError(r.classify(err, ent.Kind, "update", ent.ID), ent.Kind, "update", ent.ID)
	}
	return updated, nil
}

// classify maps driver errors through the service adapter. Errors already
// in the storefront taxonomy pass through.
func (r *Repository) classify(err error, kind storefront.Kind, operation, value string) error {
	return adapter.Classify(r.service.adapter, err, kind, operation, value)
}

// Statement builders

func (r *Repository) Find() *QueryBuilder {
	return NewQueryBuilder(TableName, r.service.adapter.Placeholder).Select(entityColumns...)
}

func (r *Repository) Insert() *InsertBuilder {
	return NewInsertBuilder(TableName, r.service.adapter.Placeholder)
}

func (r *Repository) Modify() *UpdateBuilder {
	return NewUpdateBuilder(TableName, r.service.adapter.Placeholder)
}

// Service returns the underlying SQL service.
func (r *Repository) Service() *Service { return r.service }

// Scanning

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (storefront.Entity, error) {
	var (
		ent       storefront.Entity
		kind      string
		slug      sql.NullString
		uniqueKey sql.NullString
		fields    []byte
	)
	if err := row.Scan(&ent.ID, &kind, &slug, &uniqueKey, &fields, &ent.Version, &ent.CreatedAt, &ent.UpdatedAt); err != nil {
		return storefront.Entity{}, err
	}
	decoded, err := storefront.DecodeFields(fields)
	if err != nil {
		return storefront.Entity{}, err
	}
	ent.Kind = storefront.Kind(kind)
	ent.Slug = slug.String
	ent.UniqueKey = uniqueKey.String
	ent.Fields = decoded
	ent.CreatedAt = ent.CreatedAt.UTC()
	ent.UpdatedAt = ent.UpdatedAt.UTC()
	return ent, nil
}

func scanEntityRows(rows *sql.Rows) (storefront.Entity, error) {
	return scanEntity(rows)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
