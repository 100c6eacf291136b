// Package ormstore is the primary, mapped access path: GORM over the pool
// the raw path opened, with every write checked against the kind's JSON
// schema first.
package ormstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"storefront"
	"storefront/catalog"
	sqlstore "storefront/sql"
	"storefront/sql/adapter"
)

// Repository implements storefront.Repository over GORM.
type Repository struct {
	*storefront.RepositoryBase
	db      *gorm.DB
	adapter adapter.Adapter
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// Ensure Repository implements storefront.Repository.
var _ storefront.Repository = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// Dialector returns the GORM dialector for adpt over an already open pool.
func Dialector(svc *sqlstore.Service) (gorm.Dialector, error) {
	adpt := svc.Adapter()
	switch adpt.Dialect() {
	case "sqlite3":
		return sqlite.Dialector{DriverName: adpt.DriverName(), Conn: svc.DB()}, nil
	case "postgres":
		return postgres.New(postgres.Config{Conn: svc.DB()}), nil
	case "mysql":
		return mysql.New(mysql.Config{Conn: svc.DB(), SkipInitializeWithVersion: true}), nil
	default:
		return nil, storefront.NewConfigErrorForField("type", adpt.Name(), fmt.Sprintf("no mapped dialect for %q", adpt.Dialect()))
	}
}

// New opens the mapped path on svc's pool. Driver errors are left
// untranslated so the adapter can classify them the same way the raw path
// does.
func New(svc *sqlstore.Service, cat *catalog.Catalog, opts ...Option) (*Repository, error) {
	dialector, err := Dialector(svc)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		RepositoryBase: storefront.NewRepositoryBase("orm"),
		adapter:        svc.Adapter(),
		catalog:        cat,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.SetClock(func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) })

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
		NowFunc:                r.Now,
	})
	if err != nil {
		return nil, storefront.WrapConnectionError(err, "open", r.adapter.DriverName(), string(r.adapter.Name()))
	}
	r.db = db
	return r, nil
}

// DB returns the GORM handle.
func (r *Repository) DB() *gorm.DB { return r.db }

func (r *Repository) validate(ent storefront.Entity) error {
	if err := r.ValidateEntity(ent); err != nil {
		return err
	}
	return r.catalog.ValidateSchema(ent.Kind, ent.Fields)
}

// Create inserts ent after schema validation.
func (r *Repository) Create(ctx context.Context, ent storefront.Entity) (storefront.Entity, error) {
	if err := r.validate(ent); err != nil {
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

	m := toModel(ent, data)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		classified := adapter.Classify(r.adapter, err, ent.Kind, "create", ent.ID)
		if storefront.DuplicateField(classified) == adapter.ColumnID {
			if stored, getErr := r.Get(ctx, ent.Kind, ent.ID); getErr == nil && storefront.SameWrite(stored, ent) {
				r.logger.Debug("create retry found stored row", "kind", ent.Kind, "id", ent.ID)
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
	return r.take(ctx, kind, "id = ?", id, "get")
}

// GetBySlug returns the entity of kind with the given slug.
func (r *Repository) GetBySlug(ctx context.Context, kind storefront.Kind, slug string) (storefront.Entity, error) {
	if slug == "" {
		return storefront.Entity{}, storefront.NewValidationErrorForField("slug", slug, "slug cannot be empty")
	}
	return r.take(ctx, kind, "slug = ?", slug, "get_by_slug")
}

// GetByUniqueKey returns the entity of kind whose unique_key column is key.
func (r *Repository) GetByUniqueKey(ctx context.Context, kind storefront.Kind, key string) (storefront.Entity, error) {
	if key == "" {
		return storefront.Entity{}, storefront.NewValidationErrorForField("unique_key", key, "unique key cannot be empty")
	}
	return r.take(ctx, kind, "unique_key = ?", key, "get_by_unique_key")
}

func (r *Repository) take(ctx context.Context, kind storefront.Kind, cond, value, operation string) (storefront.Entity, error) {
	var m EntityModel
	err := r.db.WithContext(ctx).Where("kind = ?", string(kind)).Where(cond, value).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storefront.Entity{}, storefront.NewRecordNotFoundError(kind, value)
	}
	if err != nil {
		return storefront.Entity{}, r.HandleGetError(adapter.Classify(r.adapter, err, kind, operation, value), kind, operation, value)
	}
	return m.entity()
}

// List returns one page of entities of kind in ID order.
func (r *Repository) List(ctx context.Context, kind storefront.Kind, filter storefront.Filter) (storefront.Page, error) {
	params, err := r.Paginator().ParseParams(filter)
	if err != nil {
		return storefront.Page{}, err
	}

	q := r.db.WithContext(ctx).Model(&EntityModel{}).Where("kind = ?", string(kind))
	if params.AfterID != "" {
		q = q.Where("id > ?", params.AfterID)
	}
	q = q.Order("id ASC")
	filtered := len(filter.Conditions) > 0
	if !filtered {
		q = q.Limit(int(params.PageSize) + 1)
	}

	rows, err := q.Rows()
	if err != nil {
		return storefront.Page{}, r.HandleQueryError(adapter.Classify(r.adapter, err, kind, "list", ""), kind, "list", nil)
	}
	defer rows.Close()

	items := make([]storefront.Entity, 0, params.PageSize)
	hasMore := false
	for rows.Next() {
		var m EntityModel
		if err := r.db.ScanRows(rows, &m); err != nil {
			return storefront.Page{}, r.HandleQueryError(err, kind, "list", nil)
		}
		ent, err := m.entity()
		if err != nil {
			return storefront.Page{}, r.HandleQueryError(err, kind, "list", map[string]any{"id": m.ID})
		}
		if filtered && !filter.Match(ent) {
			continue
		}
		if int32(len(items)) == params.PageSize {
			hasMore = true
			break
		}
		items = append(items, ent)
	}
	if err := rows.Err(); err != nil {
		return storefront.Page{}, r.HandleQueryError(adapter.Classify(r.adapter, err, kind, "list", ""), kind, "list", nil)
	}
	return r.Paginator().BuildPage(items, params, hasMore)
}

// Update writes ent if the stored version equals expectedVersion. An empty
// slug keeps the stored one.
func (r *Repository) Update(ctx context.Context, ent storefront.Entity, expectedVersion int64) (storefront.Entity, error) {
	if err := r.validate(ent); err != nil {
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

	current, err := r.Get(ctx, ent.Kind, ent.ID)
	if err != nil {
		return storefront.Entity{}, err
	}
	if current.Version != expectedVersion {
		return storefront.Entity{}, &storefront.VersionConflictError{
			Kind: ent.Kind, ID: ent.ID, Expected: expectedVersion, Actual: current.Version,
		}
	}

	slug := current.Slug
	if ent.Slug != "" {
		slug = ent.Slug
	}
	now := r.Now()

	res := r.db.WithContext(ctx).Model(&EntityModel{}).
		Where("id = ? AND kind = ? AND version = ?", ent.ID, string(ent.Kind), expectedVersion).
		Updates(map[string]any{
			"slug":       optional(slug),
			"unique_key": optional(ent.UniqueKey),
			"fields":     datatypes.JSON(data),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		classified := adapter.Classify(r.adapter, res.Error, ent.Kind, "update", ent.ID)
		return storefront.Entity{}, r.HandleUpdateError(classified, ent.Kind, "update", ent.ID)
	}
	if res.RowsAffected == 0 {
		// Lost the race between the read and the guarded write.
		return storefront.Entity{}, &storefront.VersionConflictError{Kind: ent.Kind, ID: ent.ID, Expected: expectedVersion}
	}

	updated := current
	updated.Slug = slug
	updated.UniqueKey = ent.UniqueKey
	updated.Fields = fields
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = now
	return updated, nil
}
