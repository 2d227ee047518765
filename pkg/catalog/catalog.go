// Package catalog is the read-only schema catalog: tables, relationships and business
// rules of the case-management database, used as descriptive context.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// DefaultTTL is how long a built catalog is served before it is rebuilt.
const DefaultTTL = 30 * time.Minute

// DefaultRetryTTL is how long a declared-schema fallback is served after introspection
// fails, before introspection is tried again.
const DefaultRetryTTL = time.Minute

//go:embed business_rules.yaml
var defaultBusinessRules []byte

// Catalog is the schema catalog read contract.
type Catalog interface {
	GetTables(ctx context.Context) (map[string]models.TableInfo, error)
	GetRelationships(ctx context.Context) ([]models.Relationship, error)
	GetBusinessRules(ctx context.Context) (*BusinessRules, error)
}

// BusinessRule is one named domain rule.
type BusinessRule struct {
	Name        string   `yaml:"name" json:"name"`
	Tables      []string `yaml:"tables" json:"tables"`
	Description string   `yaml:"description" json:"description"`
}

// BusinessRules is the structured rule document.
type BusinessRules struct {
	Rules []BusinessRule `yaml:"rules" json:"rules"`
}

// Text renders the rules as one "name: description" line each.
func (b *BusinessRules) Text() string {
	var sb strings.Builder
	for _, r := range b.Rules {
		fmt.Fprintf(&sb, "%s: %s\n", r.Name, strings.TrimSpace(r.Description))
	}
	return sb.String()
}

// ParseBusinessRules decodes a YAML rule document.
func ParseBusinessRules(data []byte) (*BusinessRules, error) {
	var rules BusinessRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse business rules: %w", err)
	}
	for i, r := range rules.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("business rule %d has no name", i)
		}
	}
	return &rules, nil
}

type snapshot struct {
	tables        map[string]models.TableInfo
	relationships []models.Relationship
	rules         *BusinessRules
	builtAt       time.Time
	ttl           time.Duration
}

// CachedCatalog builds the catalog from live introspection plus the declared schema and
// serves it until the TTL passes; the next read rebuilds it. If introspection fails the
// declared schema is served instead.
type CachedCatalog struct {
	introspector datastore.SchemaIntrospector
	rulesPath    string
	ttl          time.Duration
	retryTTL     time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.Mutex
	current *snapshot
}

// Options configures a CachedCatalog.
type Options struct {
	// Introspector may be nil, in which case only the declared schema is served.
	Introspector datastore.SchemaIntrospector
	// BusinessRulesPath overrides the embedded rule document when set.
	BusinessRulesPath string
	TTL               time.Duration
	// RetryTTL bounds how long a fallback built after an introspection error is served.
	RetryTTL time.Duration
	Now      func() time.Time
}

// NewCachedCatalog creates a CachedCatalog. Nothing is read until the first call.
func NewCachedCatalog(opts Options, logger *zap.Logger) *CachedCatalog {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryTTL <= 0 || opts.RetryTTL > opts.TTL {
		opts.RetryTTL = min(DefaultRetryTTL, opts.TTL)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CachedCatalog{
		introspector: opts.Introspector,
		rulesPath:    opts.BusinessRulesPath,
		ttl:          opts.TTL,
		retryTTL:     opts.RetryTTL,
		now:          opts.Now,
		logger:       logger.Named("schema-catalog"),
	}
}

func (c *CachedCatalog) GetTables(ctx context.Context) (map[string]models.TableInfo, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.tables, nil
}

func (c *CachedCatalog) GetRelationships(ctx context.Context) ([]models.Relationship, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.relationships, nil
}

func (c *CachedCatalog) GetBusinessRules(ctx context.Context) (*BusinessRules, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.rules, nil
}

// snapshot returns the current snapshot, rebuilding it when missing or expired.
// Concurrent readers wait for one rebuild.
func (c *CachedCatalog) snapshot(ctx context.Context) (*snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.now().Sub(c.current.builtAt) < c.current.ttl {
		return c.current, nil
	}

	snap, err := c.build(ctx)
	if err != nil {
		return nil, err
	}
	c.current = snap
	return snap, nil
}

func (c *CachedCatalog) build(ctx context.Context) (*snapshot, error) {
	rules, err := c.loadRules()
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		tables:        declaredTables(),
		relationships: append([]models.Relationship(nil), models.CaseRelationships...),
		rules:         rules,
		builtAt:       c.now(),
		ttl:           c.ttl,
	}
	if c.introspector == nil {
		return snap, nil
	}

	columns, err := c.introspector.DiscoverColumns(ctx, models.AllowedTables())
	if err != nil {
		c.logger.Warn("Schema introspection failed, serving declared schema",
			zap.Duration("retry_in", c.retryTTL), zap.Error(err))
		snap.ttl = c.retryTTL
		return snap, nil
	}
	mergeColumns(snap.tables, columns)

	fks, err := c.introspector.DiscoverForeignKeys(ctx)
	if err != nil {
		c.logger.Warn("Foreign key introspection failed, serving declared relationships",
			zap.Duration("retry_in", c.retryTTL), zap.Error(err))
		snap.ttl = c.retryTTL
		return snap, nil
	}
	if rels := relationshipsFromForeignKeys(fks, snap.tables); len(rels) > 0 {
		snap.relationships = rels
	}

	c.logger.Debug("Rebuilt schema catalog",
		zap.Int("tables", len(snap.tables)),
		zap.Int("relationships", len(snap.relationships)))
	return snap, nil
}

func (c *CachedCatalog) loadRules() (*BusinessRules, error) {
	data := defaultBusinessRules
	if c.rulesPath != "" {
		fileData, err := os.ReadFile(c.rulesPath)
		if err != nil {
			return nil, fmt.Errorf("read business rules: %w", err)
		}
		data = fileData
	}
	return ParseBusinessRules(data)
}

func declaredTables() map[string]models.TableInfo {
	tables := make(map[string]models.TableInfo, len(models.CaseTables))
	for _, t := range models.CaseTables {
		t.Columns = append([]models.ColumnInfo(nil), t.Columns...)
		tables[t.Name] = t
	}
	return tables
}

// mergeColumns replaces declared columns with live ones, keeping declared descriptions.
// Tables absent from the live database keep their declared columns.
func mergeColumns(tables map[string]models.TableInfo, live map[string][]datastore.Column) {
	for name, cols := range live {
		t, ok := tables[name]
		if !ok || len(cols) == 0 {
			continue
		}
		described := make(map[string]string, len(t.Columns))
		for _, c := range t.Columns {
			described[c.Name] = c.Description
		}
		merged := make([]models.ColumnInfo, len(cols))
		for i, c := range cols {
			merged[i] = models.ColumnInfo{Name: c.Name, Type: c.DataType, Description: described[c.Name]}
		}
		t.Columns = merged
		tables[name] = t
	}
}

// relationshipsFromForeignKeys keeps foreign keys between catalog tables. A foreign key
// onto a primary key is many-to-one.
func relationshipsFromForeignKeys(fks []datastore.ForeignKey, tables map[string]models.TableInfo) []models.Relationship {
	var rels []models.Relationship
	for _, fk := range fks {
		if _, ok := tables[fk.Table]; !ok {
			continue
		}
		if _, ok := tables[fk.ReferencedTable]; !ok {
			continue
		}
		rels = append(rels, models.Relationship{
			FromTable:   fk.Table,
			FromColumn:  fk.Column,
			ToTable:     fk.ReferencedTable,
			ToColumn:    fk.ReferencedColumn,
			Cardinality: "many-to-one",
		})
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].FromTable != rels[j].FromTable {
			return rels[i].FromTable < rels[j].FromTable
		}
		return rels[i].FromColumn < rels[j].FromColumn
	})
	return rels
}

var _ Catalog = (*CachedCatalog)(nil)
