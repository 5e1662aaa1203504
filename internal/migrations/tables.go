package migrations

import (
	"fmt"
	"strings"
)

const (
	sqlite = iota
	postgres
	mysql
)

// schema holds the catalog tables. The initial migration is generated from
// it for each supported dialect, so existing entries may not be changed;
// new schema changes go in as additional migration steps.
var schema = []*sqlTable{
	createSQLTable("releases").
		VarCharPrimaryKeyColumn("version_name").
		BigIntNonNullColumn("release_date").
		TextColumn("phar_artifact_url").
		TextColumn("signature_artifact_url").
		VarCharNonNullColumn("stability").
		Check("stability", "stability IN ('stable', 'snapshot')"),
}

type sqlDataType interface {
	SQL(kind int) string
}

type sqlText struct{}
type sqlBigInt struct{}
type sqlVarChar struct{}

func (sqlText) SQL(int) string {
	return "TEXT"
}

func (sqlBigInt) SQL(kind int) string {
	if kind == sqlite {
		return "INTEGER"
	}
	return "BIGINT"
}

func (sqlVarChar) SQL(kind int) string {
	if kind == sqlite {
		return "TEXT"
	}
	return "VARCHAR(255)"
}

type sqlColumn struct {
	Name       string
	Type       sqlDataType
	PrimaryKey bool
	NotNull    bool
}

func (c sqlColumn) SQL(kind int) string {
	parts := []string{c.Name, c.Type.SQL(kind)}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

type sqlCheck struct {
	Name string
	Expr string
}

type sqlTable struct {
	name      string
	columns   []sqlColumn
	checks    []sqlCheck
	iteration string // constraint name prefix
}

func createSQLTable(name string) *sqlTable {
	return &sqlTable{name: name, iteration: "sbu_v1"}
}

func (t *sqlTable) VarCharPrimaryKeyColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlVarChar{}, PrimaryKey: true})
	return t
}

func (t *sqlTable) VarCharNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlVarChar{}, NotNull: true})
	return t
}

func (t *sqlTable) BigIntNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlBigInt{}, NotNull: true})
	return t
}

func (t *sqlTable) TextColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlText{}})
	return t
}

func (t *sqlTable) Check(name, expr string) *sqlTable {
	t.checks = append(t.checks, sqlCheck{Name: name, Expr: expr})
	return t
}

func (t *sqlTable) SQL(kind int) string {
	c := make([]string, len(t.columns))
	for i := range t.columns {
		c[i] = t.columns[i].SQL(kind)
	}

	// Constraints carry names we pick ourselves: the dialects disagree on
	// generated constraint names, and later migrations need to refer to them.

	for i := range t.columns {
		if t.columns[i].PrimaryKey {
			c = append(c, fmt.Sprintf("CONSTRAINT %[1]s_%[2]s_%[3]s_pkey PRIMARY KEY (%[3]s)", t.iteration, t.name, t.columns[i].Name))
		}
	}

	for _, check := range t.checks {
		c = append(c, fmt.Sprintf("CONSTRAINT %s_%s_%s_check CHECK (%s)", t.iteration, t.name, check.Name, check.Expr))
	}

	return `CREATE TABLE IF NOT EXISTS ` + t.name + ` (` + strings.Join(c, ", ") + `);`
}
