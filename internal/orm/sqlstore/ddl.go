package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/restful/internal/orm/schema"
	"go.uber.org/zap"
)

// DDL returns the CREATE TABLE statements for every model and join table.
// Referenced tables come before the tables referencing them.
func DDL(meta *schema.Meta, d Dialect) ([]string, error) {
	models, err := creationOrder(meta)
	if err != nil {
		return nil, err
	}

	var stmts []string
	for _, m := range models {
		stmt, err := createTable(meta, d, m)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}

	joins := map[string]bool{}
	for _, m := range models {
		for _, f := range m.RelationFields() {
			rel, err := meta.Relation(m.Name, f.Name)
			if err != nil {
				return nil, err
			}
			if rel.Kind != schema.ManyToMany || joins[rel.Through.Table] {
				continue
			}
			joins[rel.Through.Table] = true
			stmt, err := createJoinTable(d, rel)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

// creationOrder sorts models so that belongs-to targets come first. Models
// in a reference cycle keep their declaration order.
func creationOrder(meta *schema.Meta) ([]*schema.Model, error) {
	deps := make(map[*schema.Model][]*schema.Model)
	for _, m := range meta.Models() {
		for _, f := range m.RelationFields() {
			rel, err := meta.Relation(m.Name, f.Name)
			if err != nil {
				return nil, err
			}
			if rel.Kind == schema.BelongsTo && rel.Target != m {
				deps[m] = append(deps[m], rel.Target)
			}
		}
	}

	var (
		out   []*schema.Model
		state = make(map[*schema.Model]int)
		visit func(m *schema.Model)
	)
	visit = func(m *schema.Model) {
		if state[m] != 0 {
			return
		}
		state[m] = 1
		for _, dep := range deps[m] {
			visit(dep)
		}
		state[m] = 2
		out = append(out, m)
	}
	for _, m := range meta.Models() {
		visit(m)
	}
	return out, nil
}

func createTable(meta *schema.Meta, d Dialect, m *schema.Model) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", d.Quote(m.TableName()))

	ids := m.IDFields()
	var defs []string
	for _, f := range m.ScalarFields() {
		defs = append(defs, "  "+columnDef(d, f, len(ids) == 1))
	}

	if len(ids) > 1 {
		cols := make([]string, len(ids))
		for i, f := range ids {
			cols[i] = f.ColumnName()
		}
		defs = append(defs, fmt.Sprintf("  PRIMARY KEY (%s)", quoteAll(d, cols)))
	}

	for _, f := range m.RelationFields() {
		rel, err := meta.Relation(m.Name, f.Name)
		if err != nil {
			return "", err
		}
		if rel.Kind != schema.BelongsTo {
			continue
		}
		targetPK, err := rel.Target.PrimaryKey()
		if err != nil {
			return "", err
		}
		onDelete := "RESTRICT"
		if rel.ForeignKey.Optional {
			onDelete = "SET NULL"
		}
		defs = append(defs, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
			d.Quote(rel.ForeignKey.ColumnName()), d.Quote(rel.Target.TableName()),
			d.Quote(targetPK.ColumnName()), onDelete))
	}

	sb.WriteString(strings.Join(defs, ",\n"))
	sb.WriteString("\n)")
	return sb.String(), nil
}

func columnDef(d Dialect, f *schema.Field, singleID bool) string {
	name := d.Quote(f.ColumnName())
	if f.ID && singleID && f.Default == schema.DefaultAutoIncrement {
		return name + " " + d.AutoIncrement(f)
	}

	def := name + " " + d.ColumnType(f)
	if f.ID && singleID {
		def += " PRIMARY KEY"
	} else if !f.Optional {
		def += " NOT NULL"
	}
	if f.Unique && !f.ID {
		def += " UNIQUE"
	}
	return def
}

func createJoinTable(d Dialect, rel *schema.Relation) (string, error) {
	sourcePK, err := rel.Source.PrimaryKey()
	if err != nil {
		return "", err
	}
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return "", err
	}
	t := rel.Through
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n"+
			"  %s %s NOT NULL REFERENCES %s (%s) ON DELETE CASCADE,\n"+
			"  %s %s NOT NULL REFERENCES %s (%s) ON DELETE CASCADE,\n"+
			"  PRIMARY KEY (%s, %s)\n)",
		d.Quote(t.Table),
		d.Quote(t.Source), keyType(d, sourcePK), d.Quote(rel.Source.TableName()), d.Quote(sourcePK.ColumnName()),
		d.Quote(t.Target), keyType(d, targetPK), d.Quote(rel.Target.TableName()), d.Quote(targetPK.ColumnName()),
		d.Quote(t.Source), d.Quote(t.Target),
	), nil
}

// keyType is the column type of a key referencing f
func keyType(d Dialect, f *schema.Field) string {
	ref := *f
	ref.Array = false
	return d.ColumnType(&ref)
}

// Migrate creates the tables of every model that does not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := DDL(s.meta, s.dialect)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		s.logger.Debug("migrate", zap.String("sql", firstLine(stmt)))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(strings.TrimSuffix(s[:i], "("))
	}
	return s
}
