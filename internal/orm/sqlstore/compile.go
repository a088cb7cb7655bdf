package sqlstore

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
)

// compiler renders filter trees and orderings into SQL. Arguments are
// collected in the order their placeholders appear in the statement.
type compiler struct {
	meta    *schema.Meta
	dialect Dialect
	args    []any
	aliases int
}

func newCompiler(meta *schema.Meta, d Dialect) *compiler {
	return &compiler{meta: meta, dialect: d}
}

func (c *compiler) arg(v any) string {
	c.args = append(c.args, v)
	return c.dialect.Placeholder(len(c.args))
}

func (c *compiler) alias() string {
	c.aliases++
	return fmt.Sprintf("t%d", c.aliases)
}

func (c *compiler) table(m *schema.Model) string {
	return c.dialect.Quote(m.TableName())
}

func (c *compiler) col(alias string, f *schema.Field) string {
	return alias + "." + c.dialect.Quote(f.ColumnName())
}

func (c *compiler) column(alias, name string) string {
	return alias + "." + c.dialect.Quote(name)
}

// list binds every value and returns the comma separated placeholders
func (c *compiler) list(values []any) string {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = c.arg(v)
	}
	return strings.Join(marks, ", ")
}

// where renders f against the model aliased as alias. A nil filter renders
// as the empty string.
func (c *compiler) where(m *schema.Model, alias string, f query.Filter) (string, error) {
	switch f := f.(type) {
	case nil:
		return "", nil

	case query.And:
		return c.join(m, alias, f, " AND ", "1=1")

	case query.Or:
		return c.join(m, alias, f, " OR ", "1=0")

	case query.Not:
		inner, err := c.where(m, alias, f.Filter)
		if err != nil || inner == "" {
			return inner, err
		}
		return "NOT (" + inner + ")", nil

	case query.Cond:
		field, ok := m.Field(f.Field)
		if !ok || field.IsRelation() {
			return "", crud.Validation("unknown field %s.%s", m.Name, f.Field)
		}
		return c.cond(field, c.col(alias, field), f)

	case query.Relation:
		rel, err := c.meta.Relation(m.Name, f.Name)
		if err != nil {
			return "", crud.Validation("%v", err)
		}
		return c.relation(rel, alias, f)

	default:
		return "", crud.Validation("unsupported filter %T", f)
	}
}

func (c *compiler) join(m *schema.Model, alias string, children []query.Filter, sep, empty string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		s, err := c.where(m, alias, child)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, "("+s+")")
		}
	}
	if len(parts) == 0 {
		return empty, nil
	}
	return strings.Join(parts, sep), nil
}

func (c *compiler) cond(f *schema.Field, col string, cond query.Cond) (string, error) {
	if cond.Op.IsListOp() && !f.Array {
		return "", crud.Validation("operator %s needs a list field, %s is not", cond.Op, f.Name)
	}

	switch cond.Op {
	case query.OpEquals:
		if cond.Value == nil {
			return col + " IS NULL", nil
		}
		v, err := c.operand(f, cond.Value, f.Array)
		if err != nil {
			return "", err
		}
		if cond.Insensitive {
			return fmt.Sprintf("lower(%s) = lower(%s)", col, c.arg(v)), nil
		}
		return col + " = " + c.arg(v), nil

	case query.OpIn:
		items, err := c.operands(f, cond.Value)
		if err != nil {
			return "", err
		}
		if len(items) == 0 {
			return "1=0", nil
		}
		return fmt.Sprintf("%s IN (%s)", col, c.list(items)), nil

	case query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		v, err := c.operand(f, cond.Value, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", col, comparison[cond.Op], c.arg(v)), nil

	case query.OpContains, query.OpStartsWith, query.OpEndsWith, query.OpSearch:
		needle, ok := cond.Value.(string)
		if !ok {
			return "", crud.Validation("operator %s needs a string value", cond.Op)
		}
		return c.dialect.StringMatch(col, cond.Op, cond.Insensitive, needle, c.arg), nil

	case query.OpHas:
		v, err := schema.Normalize(f.Type, cond.Value)
		if err != nil {
			return "", validationError(err)
		}
		return c.dialect.ListMatch(col, f, cond.Op, []any{v}, c.arg), nil

	case query.OpHasEvery, query.OpHasSome:
		items, ok := cond.Value.([]any)
		if !ok {
			return "", crud.Validation("operator on %s needs a list value", f.Name)
		}
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := schema.Normalize(f.Type, item)
			if err != nil {
				return "", validationError(err)
			}
			values = append(values, v)
		}
		return c.dialect.ListMatch(col, f, cond.Op, values, c.arg), nil

	case query.OpIsEmpty:
		if _, ok := cond.Value.(bool); !ok {
			return "", crud.Validation("isEmpty needs a boolean value")
		}
		return c.dialect.ListMatch(col, f, cond.Op, []any{cond.Value}, c.arg), nil
	}

	return "", crud.Validation("unsupported operator %s", cond.Op)
}

var comparison = map[query.Operator]string{
	query.OpLt:  "<",
	query.OpLte: "<=",
	query.OpGt:  ">",
	query.OpGte: ">=",
}

// operand normalizes and encodes a comparison value
func (c *compiler) operand(f *schema.Field, v any, list bool) (any, error) {
	var (
		n   any
		err error
	)
	if list {
		n, err = schema.NormalizeField(f, v)
	} else {
		n, err = schema.Normalize(f.Type, v)
	}
	if err != nil {
		return nil, validationError(err)
	}
	if list {
		return c.dialect.Encode(f, n)
	}
	scalar := *f
	scalar.Array = false
	return c.dialect.Encode(&scalar, n)
}

func (c *compiler) operands(f *schema.Field, v any) ([]any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, crud.Validation("operator on %s needs a list value", f.Name)
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		n, err := c.operand(f, item, false)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// relationSource returns the FROM clause and the correlation condition that
// reach rel's target, aliased as t, from the source row aliased as outer
func (c *compiler) relationSource(rel *schema.Relation, outer, t string) (string, string, error) {
	switch rel.Kind {
	case schema.BelongsTo:
		targetPK, err := rel.Target.PrimaryKey()
		if err != nil {
			return "", "", crud.Validation("%v", err)
		}
		return c.table(rel.Target) + " " + t,
			c.col(t, targetPK) + " = " + c.col(outer, rel.ForeignKey), nil

	case schema.HasOne, schema.HasMany:
		sourcePK, err := rel.Source.PrimaryKey()
		if err != nil {
			return "", "", crud.Validation("%v", err)
		}
		return c.table(rel.Target) + " " + t,
			c.col(t, rel.ForeignKey) + " = " + c.col(outer, sourcePK), nil

	case schema.ManyToMany:
		sourcePK, err := rel.Source.PrimaryKey()
		if err != nil {
			return "", "", crud.Validation("%v", err)
		}
		targetPK, err := rel.Target.PrimaryKey()
		if err != nil {
			return "", "", crud.Validation("%v", err)
		}
		j := c.alias()
		from := fmt.Sprintf("%s %s JOIN %s %s ON %s = %s",
			c.table(rel.Target), t,
			c.dialect.Quote(rel.Through.Table), j,
			c.column(j, rel.Through.Target), c.col(t, targetPK))
		return from, c.column(j, rel.Through.Source) + " = " + c.col(outer, sourcePK), nil
	}
	return "", "", crud.Validation("unsupported relation %s", rel.Kind)
}

func (c *compiler) relation(rel *schema.Relation, outer string, f query.Relation) (string, error) {
	t := c.alias()
	from, on, err := c.relationSource(rel, outer, t)
	if err != nil {
		return "", err
	}
	inner, err := c.where(rel.Target, t, f.Where)
	if err != nil {
		return "", err
	}

	switch f.Quantifier {
	case query.Some, query.Is:
		return exists(false, from, on, inner), nil
	case query.None, query.IsNot:
		return exists(true, from, on, inner), nil
	case query.Every:
		if inner == "" {
			return "1=1", nil
		}
		return exists(true, from, on, "NOT ("+inner+")"), nil
	}
	return "", crud.Validation("unsupported quantifier %s", f.Quantifier)
}

func exists(not bool, from, on, inner string) string {
	cond := on
	if inner != "" {
		cond += " AND (" + inner + ")"
	}
	s := fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", from, cond)
	if not {
		return "NOT " + s
	}
	return s
}

// orderBy renders the ORDER BY clause, always ending with the primary key
func (c *compiler) orderBy(m *schema.Model, alias string, orderBy []query.OrderBy) (string, error) {
	pk, err := m.PrimaryKey()
	if err != nil {
		return "", crud.Validation("%v", err)
	}

	parts := make([]string, 0, len(orderBy)+1)
	for _, o := range orderBy {
		expr, err := c.orderExpr(m, alias, o.Path)
		if err != nil {
			return "", err
		}
		if o.Desc {
			parts = append(parts, expr+" DESC NULLS FIRST")
		} else {
			parts = append(parts, expr+" ASC NULLS LAST")
		}
	}
	parts = append(parts, c.col(alias, pk)+" ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (c *compiler) orderExpr(m *schema.Model, alias string, path []string) (string, error) {
	switch len(path) {
	case 1:
		f, ok := m.Field(path[0])
		if !ok || f.IsRelation() {
			return "", crud.Validation("cannot order %s by %q", m.Name, path[0])
		}
		return c.col(alias, f), nil

	case 2:
		rel, err := c.meta.Relation(m.Name, path[0])
		if err != nil {
			return "", crud.Validation("%v", err)
		}
		if rel.IsCollection() {
			return "", crud.Validation("cannot order %s by to-many relation %q", m.Name, path[0])
		}
		f, ok := rel.Target.Field(path[1])
		if !ok || f.IsRelation() {
			return "", crud.Validation("cannot order %s by %q", rel.Target.Name, path[1])
		}
		t := c.alias()
		from, on, err := c.relationSource(rel, alias, t)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(SELECT %s FROM %s WHERE %s%s)", c.col(t, f), from, on, c.dialect.Limit(1, 0)), nil
	}
	return "", crud.Validation("invalid order path %q", strings.Join(path, "."))
}

// columns lists the selected scalar columns of a model
func (c *compiler) columns(alias string, fields []*schema.Field) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = c.col(alias, f)
	}
	return strings.Join(cols, ", ")
}

// selectSQL renders the statement loading the rows of m matching args
func (c *compiler) selectSQL(m *schema.Model, fields []*schema.Field, args query.FindArgs) (string, error) {
	const alias = "t0"
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s %s", c.columns(alias, fields), c.table(m), alias)

	where, err := c.where(m, alias, args.Where)
	if err != nil {
		return "", err
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}

	order, err := c.orderBy(m, alias, args.OrderBy)
	if err != nil {
		return "", err
	}
	sb.WriteString(order)
	sb.WriteString(c.dialect.Limit(args.Take, args.Skip))
	return sb.String(), nil
}

// countSQL renders the statement counting the rows of m matching where
func (c *compiler) countSQL(m *schema.Model, where query.Filter) (string, error) {
	const alias = "t0"
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", c.table(m), alias)
	w, err := c.where(m, alias, where)
	if err != nil {
		return "", err
	}
	if w != "" {
		stmt += " WHERE " + w
	}
	return stmt, nil
}

func validationError(err error) error {
	return &crud.RequestError{Kind: crud.KindValidation, Message: err.Error(), Err: err}
}
