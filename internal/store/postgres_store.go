package store

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const regionColumns = `region_id, tenant_id, layout_id, grid_row, grid_col, row_span, col_span,
	min_width, min_height, config, widget_type, widget_config,
	is_collapsed, is_locked, is_hidden_on_mobile, group_id, position,
	version, created_at, updated_at`

// PostgresStore implements Store for PostgreSQL. Region writes lock the
// owning layout row so the overlap check and the write commit together.
type PostgresStore struct {
	pool   *pgxpool.Pool
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewPostgresStoreFromURL connects using a pgx connection string or URL.
// A positive maxConns overrides the pool size from the connection string.
func NewPostgresStoreFromURL(ctx context.Context, connString string, maxConns int32, clock clockwork.Clock, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		clock:  clock,
		logger: logger,
	}, nil
}

// Migrate creates the tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Database schema applied")
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// GetLayout retrieves a layout
func (s *PostgresStore) GetLayout(ctx context.Context, tenantID, layoutID string) (*model.Layout, error) {
	query := `
		SELECT layout_id, tenant_id, name, description, is_default, version, created_at, updated_at
		FROM layouts
		WHERE tenant_id = $1 AND layout_id = $2
	`
	l, err := scanLayout(s.pool.QueryRow(ctx, query, tenantID, layoutID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, layoutNotFound(layoutID)
		}
		return nil, fmt.Errorf("failed to get layout: %w", err)
	}
	return l, nil
}

// ListLayouts lists a tenant's layouts
func (s *PostgresStore) ListLayouts(ctx context.Context, tenantID string) ([]*model.Layout, error) {
	query := `
		SELECT layout_id, tenant_id, name, description, is_default, version, created_at, updated_at
		FROM layouts
		WHERE tenant_id = $1
		ORDER BY name, layout_id
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list layouts: %w", err)
	}
	defer rows.Close()

	layouts := make([]*model.Layout, 0)
	for rows.Next() {
		l, err := scanLayout(rows)
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, l)
	}
	return layouts, rows.Err()
}

// CreateLayout inserts a layout at version 1
func (s *PostgresStore) CreateLayout(ctx context.Context, layout *model.Layout) (*model.Layout, error) {
	l := *layout
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := s.clock.Now().UTC()
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now

	query := `
		INSERT INTO layouts (tenant_id, layout_id, name, description, is_default, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query, l.TenantID, l.ID, l.Name, l.Description, l.IsDefault, l.Version, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("layout %s: %w", l.ID, errors.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create layout: %w", err)
	}
	return &l, nil
}

// UpdateLayout applies a patch under optimistic locking
func (s *PostgresStore) UpdateLayout(ctx context.Context, tenantID, layoutID string, patch *model.LayoutPatch, expectedVersion int64) (*model.Layout, error) {
	current, err := s.GetLayout(ctx, tenantID, layoutID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, errors.NewVersionConflict("layout", layoutID, expectedVersion, current.Version, current)
	}

	updated := patch.Apply(current)
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = s.clock.Now().UTC()

	query := `
		UPDATE layouts
		SET name = $3, description = $4, is_default = $5, version = $6, updated_at = $7
		WHERE tenant_id = $1 AND layout_id = $2 AND version = $8
	`
	result, err := s.pool.Exec(ctx, query,
		tenantID, layoutID,
		updated.Name, updated.Description, updated.IsDefault,
		updated.Version, updated.UpdatedAt,
		expectedVersion, // Optimistic locking
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update layout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, s.layoutConflict(ctx, tenantID, layoutID, expectedVersion)
	}
	return updated, nil
}

// DeleteLayout removes a layout; regions go with it through the cascade
func (s *PostgresStore) DeleteLayout(ctx context.Context, tenantID, layoutID string, expectedVersion int64) error {
	query := `DELETE FROM layouts WHERE tenant_id = $1 AND layout_id = $2 AND ($3::bigint = 0 OR version = $3)`
	result, err := s.pool.Exec(ctx, query, tenantID, layoutID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete layout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return s.layoutConflict(ctx, tenantID, layoutID, expectedVersion)
	}
	return nil
}

// layoutConflict explains a write that matched no row
func (s *PostgresStore) layoutConflict(ctx context.Context, tenantID, layoutID string, expectedVersion int64) error {
	current, err := s.GetLayout(ctx, tenantID, layoutID)
	if err != nil {
		return err
	}
	return errors.NewVersionConflict("layout", layoutID, expectedVersion, current.Version, current)
}

// GetRegion retrieves a region
func (s *PostgresStore) GetRegion(ctx context.Context, tenantID, layoutID, regionID string) (*model.Region, error) {
	return s.getRegion(ctx, s.pool, tenantID, layoutID, regionID)
}

// ListRegions lists the regions of a layout in display order
func (s *PostgresStore) ListRegions(ctx context.Context, tenantID, layoutID string) ([]*model.Region, error) {
	if _, err := s.GetLayout(ctx, tenantID, layoutID); err != nil {
		return nil, err
	}
	return s.listRegions(ctx, s.pool, tenantID, layoutID)
}

// CreateRegion inserts a region at version 1
func (s *PostgresStore) CreateRegion(ctx context.Context, region *model.Region) (*model.Region, error) {
	var created *model.Region
	err := s.inLayoutTx(ctx, region.TenantID, region.LayoutID, func(tx pgx.Tx) error {
		siblings, err := s.listRegions(ctx, tx, region.TenantID, region.LayoutID)
		if err != nil {
			return err
		}

		r := region.Clone()
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if err := CheckOverlap(r, siblings, ""); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		r.Version = 1
		r.CreatedAt = now
		r.UpdatedAt = now

		config, widgetConfig, err := marshalRegionJSON(r)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO regions (` + regionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`
		_, err = tx.Exec(ctx, query,
			r.ID, r.TenantID, r.LayoutID, r.GridRow, r.GridCol, r.RowSpan, r.ColSpan,
			r.MinWidth, r.MinHeight, config, string(r.WidgetType), widgetConfig,
			r.IsCollapsed, r.IsLocked, r.IsHiddenOnMobile, r.GroupID, r.Position,
			r.Version, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("region %s: %w", r.ID, errors.ErrAlreadyExists)
			}
			return fmt.Errorf("failed to insert region: %w", err)
		}
		created = r
		return nil
	})
	return created, err
}

// UpdateRegion applies a patch if the stored version equals expectedVersion
func (s *PostgresStore) UpdateRegion(ctx context.Context, tenantID, layoutID, regionID string, patch *model.RegionPatch, expectedVersion int64) (*model.Region, error) {
	var updated *model.Region
	err := s.inLayoutTx(ctx, tenantID, layoutID, func(tx pgx.Tx) error {
		current, err := s.getRegion(ctx, tx, tenantID, layoutID, regionID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return errors.NewVersionConflict("region", regionID, expectedVersion, current.Version, current)
		}

		next := patch.Apply(current)
		if patch.TouchesGeometry() {
			siblings, err := s.listRegions(ctx, tx, tenantID, layoutID)
			if err != nil {
				return err
			}
			if err := CheckOverlap(next, siblings, regionID); err != nil {
				return err
			}
		}
		next.Version = expectedVersion + 1
		next.UpdatedAt = s.clock.Now().UTC()

		config, widgetConfig, err := marshalRegionJSON(next)
		if err != nil {
			return err
		}

		query := `
			UPDATE regions
			SET grid_row = $4, grid_col = $5, row_span = $6, col_span = $7,
				min_width = $8, min_height = $9, config = $10, widget_type = $11, widget_config = $12,
				is_collapsed = $13, is_locked = $14, is_hidden_on_mobile = $15, group_id = $16, position = $17,
				version = $18, updated_at = $19
			WHERE tenant_id = $1 AND layout_id = $2 AND region_id = $3 AND version = $20
		`
		result, err := tx.Exec(ctx, query,
			tenantID, layoutID, regionID,
			next.GridRow, next.GridCol, next.RowSpan, next.ColSpan,
			next.MinWidth, next.MinHeight, config, string(next.WidgetType), widgetConfig,
			next.IsCollapsed, next.IsLocked, next.IsHiddenOnMobile, next.GroupID, next.Position,
			next.Version, next.UpdatedAt,
			expectedVersion, // Optimistic locking
		)
		if err != nil {
			return fmt.Errorf("failed to update region: %w", err)
		}
		if result.RowsAffected() == 0 {
			return errors.NewVersionConflict("region", regionID, expectedVersion, current.Version, current)
		}
		updated = next
		return nil
	})
	return updated, err
}

// DeleteRegion removes a region
func (s *PostgresStore) DeleteRegion(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error {
	return s.inLayoutTx(ctx, tenantID, layoutID, func(tx pgx.Tx) error {
		current, err := s.getRegion(ctx, tx, tenantID, layoutID, regionID)
		if err != nil {
			return err
		}
		if expectedVersion != 0 && current.Version != expectedVersion {
			return errors.NewVersionConflict("region", regionID, expectedVersion, current.Version, current)
		}
		query := `DELETE FROM regions WHERE tenant_id = $1 AND layout_id = $2 AND region_id = $3`
		if _, err := tx.Exec(ctx, query, tenantID, layoutID, regionID); err != nil {
			return fmt.Errorf("failed to delete region: %w", err)
		}
		return nil
	})
}

// ReorderRegions sets display positions in one transaction
func (s *PostgresStore) ReorderRegions(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error) {
	var out []*model.Region
	err := s.inLayoutTx(ctx, tenantID, layoutID, func(tx pgx.Tx) error {
		ids := make([]string, 0, len(positions))
		for _, p := range positions {
			ids = append(ids, p.RegionID)
		}
		rows, err := tx.Query(ctx,
			`SELECT region_id FROM regions WHERE tenant_id = $1 AND layout_id = $2 AND region_id = ANY($3)`,
			tenantID, layoutID, ids)
		if err != nil {
			return fmt.Errorf("failed to check regions: %w", err)
		}
		found := make(map[string]bool, len(ids))
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			found[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to check regions: %w", err)
		}
		for _, id := range ids {
			if !found[id] {
				return regionNotFound(id)
			}
		}

		now := s.clock.Now().UTC()
		batch := &pgx.Batch{}
		for _, p := range positions {
			batch.Queue(`
				UPDATE regions
				SET position = $4, version = version + 1, updated_at = $5
				WHERE tenant_id = $1 AND layout_id = $2 AND region_id = $3 AND position <> $4
			`, tenantID, layoutID, p.RegionID, p.Position, now)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to reorder regions: %w", err)
		}

		out, err = s.listRegions(ctx, tx, tenantID, layoutID)
		return err
	})
	return out, err
}

// GetTemplate retrieves a tenant template
func (s *PostgresStore) GetTemplate(ctx context.Context, tenantID, templateID string) (*model.Template, error) {
	query := `
		SELECT template_id, tenant_id, name, description, regions, version, created_at, updated_at
		FROM templates
		WHERE tenant_id = $1 AND template_id = $2
	`
	t, err := scanTemplate(s.pool.QueryRow(ctx, query, tenantID, templateID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, templateNotFound(templateID)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// ListTemplates lists a tenant's templates
func (s *PostgresStore) ListTemplates(ctx context.Context, tenantID string) ([]*model.Template, error) {
	query := `
		SELECT template_id, tenant_id, name, description, regions, version, created_at, updated_at
		FROM templates
		WHERE tenant_id = $1
		ORDER BY name, template_id
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTemplate inserts a template at version 1
func (s *PostgresStore) CreateTemplate(ctx context.Context, tmpl *model.Template) (*model.Template, error) {
	t := cloneTemplate(tmpl)
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := s.clock.Now().UTC()
	t.Version = 1
	t.CreatedAt = now
	t.UpdatedAt = now

	regions, err := json.Marshal(t.Regions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template regions: %w", err)
	}
	query := `
		INSERT INTO templates (tenant_id, template_id, name, description, regions, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.pool.Exec(ctx, query, t.TenantID, t.ID, t.Name, t.Description, regions, t.Version, t.CreatedAt, t.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("template %s: %w", t.ID, errors.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return t, nil
}

// UpdateTemplate applies a patch under optimistic locking
func (s *PostgresStore) UpdateTemplate(ctx context.Context, tenantID, templateID string, patch *model.TemplatePatch, expectedVersion int64) (*model.Template, error) {
	current, err := s.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, errors.NewVersionConflict("template", templateID, expectedVersion, current.Version, current)
	}
	updated := patch.Apply(current)
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = s.clock.Now().UTC()

	regions, err := json.Marshal(updated.Regions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template regions: %w", err)
	}
	query := `
		UPDATE templates
		SET name = $3, description = $4, regions = $5, version = $6, updated_at = $7
		WHERE tenant_id = $1 AND template_id = $2 AND version = $8
	`
	result, err := s.pool.Exec(ctx, query, tenantID, templateID,
		updated.Name, updated.Description, regions, updated.Version, updated.UpdatedAt, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	if result.RowsAffected() == 0 {
		latest, err := s.GetTemplate(ctx, tenantID, templateID)
		if err != nil {
			return nil, err
		}
		return nil, errors.NewVersionConflict("template", templateID, expectedVersion, latest.Version, latest)
	}
	return updated, nil
}

// DeleteTemplate removes a template
func (s *PostgresStore) DeleteTemplate(ctx context.Context, tenantID, templateID string, expectedVersion int64) error {
	query := `DELETE FROM templates WHERE tenant_id = $1 AND template_id = $2 AND ($3::bigint = 0 OR version = $3)`
	result, err := s.pool.Exec(ctx, query, tenantID, templateID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if result.RowsAffected() == 0 {
		current, err := s.GetTemplate(ctx, tenantID, templateID)
		if err != nil {
			return err
		}
		return errors.NewVersionConflict("template", templateID, expectedVersion, current.Version, current)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// inLayoutTx runs fn in a transaction holding the layout row lock
func (s *PostgresStore) inLayoutTx(ctx context.Context, tenantID, layoutID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx,
		`SELECT layout_id FROM layouts WHERE tenant_id = $1 AND layout_id = $2 FOR UPDATE`,
		tenantID, layoutID).Scan(&locked)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return layoutNotFound(layoutID)
		}
		return fmt.Errorf("failed to lock layout: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) getRegion(ctx context.Context, q querier, tenantID, layoutID, regionID string) (*model.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions WHERE tenant_id = $1 AND layout_id = $2 AND region_id = $3`
	r, err := scanRegion(q.QueryRow(ctx, query, tenantID, layoutID, regionID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, regionNotFound(regionID)
		}
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) listRegions(ctx context.Context, q querier, tenantID, layoutID string) ([]*model.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions WHERE tenant_id = $1 AND layout_id = $2
		ORDER BY position, grid_row, grid_col, region_id`
	rows, err := q.Query(ctx, query, tenantID, layoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	regions := make([]*model.Region, 0)
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

func scanRegion(row pgx.Row) (*model.Region, error) {
	var (
		r            model.Region
		widgetType   string
		config       []byte
		widgetConfig []byte
	)
	err := row.Scan(
		&r.ID, &r.TenantID, &r.LayoutID, &r.GridRow, &r.GridCol, &r.RowSpan, &r.ColSpan,
		&r.MinWidth, &r.MinHeight, &config, &widgetType, &widgetConfig,
		&r.IsCollapsed, &r.IsLocked, &r.IsHiddenOnMobile, &r.GroupID, &r.Position,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.WidgetType = model.WidgetType(widgetType)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &r.Config); err != nil {
			return nil, fmt.Errorf("failed to decode region config: %w", err)
		}
	}
	if len(widgetConfig) > 0 {
		if err := json.Unmarshal(widgetConfig, &r.WidgetConfig); err != nil {
			return nil, fmt.Errorf("failed to decode widget config: %w", err)
		}
	}
	return &r, nil
}

func marshalRegionJSON(r *model.Region) ([]byte, []byte, error) {
	var config, widgetConfig []byte
	var err error
	if r.Config != nil {
		if config, err = json.Marshal(r.Config); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal region config: %w", err)
		}
	}
	if r.WidgetConfig != nil {
		if widgetConfig, err = json.Marshal(r.WidgetConfig); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal widget config: %w", err)
		}
	}
	return config, widgetConfig, nil
}

func scanLayout(row pgx.Row) (*model.Layout, error) {
	var l model.Layout
	if err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.Description, &l.IsDefault, &l.Version, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanTemplate(row pgx.Row) (*model.Template, error) {
	var (
		t       model.Template
		regions []byte
	)
	if err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Description, &regions, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(regions, &t.Regions); err != nil {
		return nil, fmt.Errorf("failed to decode template regions: %w", err)
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
