package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Placeholder renders the bind parameter for the n-th argument.
type Placeholder func(n int) string

// Question is the "?" bind style.
func Question(int) string { return "?" }

// QueryBuilder builds SELECT statements.
type QueryBuilder struct {
	table       string
	columns     []string
	where       []Condition
	orderBy     []OrderBy
	limit       *int
	placeholder Placeholder
}

// Condition is one AND-ed predicate. An empty Operator means Column is a
// complete SQL fragment without arguments.
type Condition struct {
	Column   string
	Operator string
	Value    interface{}
}

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Column    string
	Direction string
}

// NewQueryBuilder starts a SELECT on table.
func NewQueryBuilder(table string, placeholder Placeholder) *QueryBuilder {
	if placeholder == nil {
		placeholder = Question
	}
	return &QueryBuilder{table: table, columns: []string{"*"}, placeholder: placeholder}
}

func (qb *QueryBuilder) Select(columns ...string) *QueryBuilder {
	if len(columns) > 0 {
		qb.columns = columns
	}
	return qb
}

func (qb *QueryBuilder) Where(column, operator string, value interface{}) *QueryBuilder {
	qb.where = append(qb.where, Condition{Column: column, Operator: operator, Value: value})
	return qb
}

func (qb *QueryBuilder) WhereEq(column string, value interface{}) *QueryBuilder {
	return qb.Where(column, "=", value)
}

func (qb *QueryBuilder) OrderBy(column, direction string) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, OrderBy{Column: column, Direction: strings.ToUpper(direction)})
	return qb
}
func (qb *QueryBuilder) OrderByAsc(column string) *QueryBuilder { return qb.OrderBy(column, "ASC") }
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder          { qb.limit = &limit; return qb }

// Build renders the statement and its arguments.
func (qb *QueryBuilder) Build() (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(qb.where)+1)
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(qb.columns, ", "), qb.table)

	if len(qb.where) > 0 {
		parts := make([]string, 0, len(qb.where))
		for _, c := range qb.where {
			if c.Operator == "" {
				parts = append(parts, c.Column)
				continue
			}
			args = append(args, c.Value)
			parts = append(parts, fmt.Sprintf("%s %s %s", c.Column, c.Operator, qb.placeholder(len(args))))
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(parts, " AND "))
	}
	if len(qb.orderBy) > 0 {
		parts := make([]string, 0, len(qb.orderBy))
		for _, ob := range qb.orderBy {
			parts = append(parts, fmt.Sprintf("%s %s", ob.Column, ob.Direction))
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if qb.limit != nil {
		args = append(args, *qb.limit)
		fmt.Fprintf(&b, " LIMIT %s", qb.placeholder(len(args)))
	}
	return b.String(), args
}

// InsertBuilder builds INSERT statements with columns in call order.
type InsertBuilder struct {
	table       string
	columns     []string
	values      []interface{}
	placeholder Placeholder
}

// NewInsertBuilder starts an INSERT into table.
func NewInsertBuilder(table string, placeholder Placeholder) *InsertBuilder {
	if placeholder == nil {
		placeholder = Question
	}
	return &InsertBuilder{table: table, placeholder: placeholder}
}

func (ib *InsertBuilder) Value(column string, value interface{}) *InsertBuilder {
	ib.columns = append(ib.columns, column)
	ib.values = append(ib.values, value)
	return ib
}

// Build renders the statement and its arguments.
func (ib *InsertBuilder) Build() (string, []interface{}) {
	marks := make([]string, len(ib.values))
	for i := range ib.values {
		marks[i] = ib.placeholder(i + 1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ib.table, strings.Join(ib.columns, ", "), strings.Join(marks, ", "))
	return q, ib.values
}

// UpdateBuilder builds UPDATE statements with SET terms in call order.
type UpdateBuilder struct {
	table       string
	sets        []Condition
	where       []Condition
	placeholder Placeholder
}

// NewUpdateBuilder starts an UPDATE of table.
func NewUpdateBuilder(table string, placeholder Placeholder) *UpdateBuilder {
	if placeholder == nil {
		placeholder = Question
	}
	return &UpdateBuilder{table: table, placeholder: placeholder}
}

// Set assigns a bound value.
func (ub *UpdateBuilder) Set(column string, value interface{}) *UpdateBuilder {
	ub.sets = append(ub.sets, Condition{Column: column, Operator: "=", Value: value})
	return ub
}

// SetExpr assigns a SQL expression, such as "version + 1".
func (ub *UpdateBuilder) SetExpr(column, expr string) *UpdateBuilder {
	ub.sets = append(ub.sets, Condition{Column: column + " = " + expr})
	return ub
}

func (ub *UpdateBuilder) WhereEq(column string, value interface{}) *UpdateBuilder {
	ub.where = append(ub.where, Condition{Column: column, Operator: "=", Value: value})
	return ub
}

// Build renders the statement and its arguments.
func (ub *UpdateBuilder) Build() (string, []interface{}) {
	args := make([]interface{}, 0, len(ub.sets)+len(ub.where))
	render := func(c Condition) string {
		if c.Operator == "" {
			return c.Column
		}
		args = append(args, c.Value)
		return fmt.Sprintf("%s %s %s", c.Column, c.Operator, ub.placeholder(len(args)))
	}

	sets := make([]string, 0, len(ub.sets))
	for _, c := range ub.sets {
		sets = append(sets, render(c))
	}
	q := fmt.Sprintf("UPDATE %s SET %s", ub.table, strings.Join(sets, ", "))
	if len(ub.where) > 0 {
		parts := make([]string, 0, len(ub.where))
		for _, c := range ub.where {
			parts = append(parts, render(c))
		}
		q += " WHERE " + strings.Join(parts, " AND ")
	}
	return q, args
}

// Executor

// QueryExecutor runs statements on the pool, or on the transaction carried
// by the context when there is one.
type QueryExecutor struct{ db *sql.DB }

func NewQueryExecutor(db *sql.DB) *QueryExecutor { return &QueryExecutor{db: db} }

func (qe *QueryExecutor) Query(ctx context.Context, qb *QueryBuilder) (*sql.Rows, error) {
	q, a := qb.Build()
	if tx, ok := TransactionFromContext(ctx); ok && tx != nil {
		return tx.QueryContext(ctx, q, a...)
	}
	return qe.db.QueryContext(ctx, q, a...)
}

func (qe *QueryExecutor) QueryRow(ctx context.Context, qb *QueryBuilder) *sql.Row {
	q, a := qb.Build()
	if tx, ok := TransactionFromContext(ctx); ok && tx != nil {
		return tx.QueryRowContext(ctx, q, a...)
	}
	return qe.db.QueryRowContext(ctx, q, a...)
}

func (qe *QueryExecutor) Exec(ctx context.Context, q string, a ...interface{}) (sql.Result, error) {
	if tx, ok := TransactionFromContext(ctx); ok && tx != nil {
		return tx.ExecContext(ctx, q, a...)
	}
	return qe.db.ExecContext(ctx, q, a...)
}

func (qe *QueryExecutor) ExecuteInsert(ctx context.Context, ib *InsertBuilder) (sql.Result, error) {
	q, a := ib.Build()
	return qe.Exec(ctx, q, a...)
}

func (qe *QueryExecutor) ExecuteUpdate(ctx context.Context, ub *UpdateBuilder) (sql.Result, error) {
	q, a := ub.Build()
	return qe.Exec(ctx, q, a...)
}
