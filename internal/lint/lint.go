// Package lint flags statements that are unsafe to re-run or that destroy
// data. Applying a script more than once must converge, so non-idempotent
// DDL is reported before anything reaches the endpoint.
package lint

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/kazi/sqlapply/internal/migration"
)

// Severity of an issue. Errors require confirmation before apply.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding on one statement.
type Issue struct {
	Index    int      `json:"index"`
	Label    string   `json:"label"`
	Line     int      `json:"line,omitempty"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s [%s] %s", i.Label, i.Severity, i.Code, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns the number of errors and warnings.
func Count(issues []Issue) (errs, warnings int) {
	for _, i := range issues {
		if i.Severity == SeverityError {
			errs++
		} else {
			warnings++
		}
	}
	return errs, warnings
}

type linter struct {
	issues []Issue
	// Objects dropped with IF EXISTS earlier in the run, keyed by kind and name.
	guards map[string]bool
	// Tables created earlier in the run.
	created map[string]bool
	stmt    migration.Statement
}

// Statements lints each statement with the postgres parser. Statements the
// parser rejects get a parse_error warning; they may still be valid for a
// sqlite endpoint.
func Statements(stmts []migration.Statement) []Issue {
	l := &linter{guards: make(map[string]bool), created: make(map[string]bool)}

	for _, stmt := range stmts {
		l.stmt = stmt
		tree, err := pg_query.Parse(stmt.SQL)
		if err != nil {
			l.add(SeverityWarning, "parse_error", fmt.Sprintf("not valid PostgreSQL: %v", err))
			continue
		}
		for _, raw := range tree.Stmts {
			if raw.Stmt == nil {
				continue
			}
			l.check(raw.Stmt)
			l.checkLocks(raw.Stmt)
		}
	}
	return l.issues
}

func (l *linter) add(sev Severity, code, msg string) {
	l.issues = append(l.issues, Issue{
		Index:    l.stmt.Index,
		Label:    l.stmt.Label(),
		Line:     l.stmt.Line,
		Severity: sev,
		Code:     code,
		Message:  msg,
	})
}

func (l *linter) check(stmt *pg_query.Node) {
	switch node := stmt.Node.(type) {
	case *pg_query.Node_DropStmt:
		l.checkDrop(node.DropStmt)

	case *pg_query.Node_CreateStmt:
		name := rangeVarName(node.CreateStmt.Relation)
		if !node.CreateStmt.IfNotExists && !l.guards[key("table", name)] {
			l.add(SeverityWarning, "non_idempotent_create",
				fmt.Sprintf("CREATE TABLE %s fails when re-run\n  Use: CREATE TABLE IF NOT EXISTS %s", name, name))
		}

	case *pg_query.Node_IndexStmt:
		if !node.IndexStmt.IfNotExists && !l.guards[key("index", node.IndexStmt.Idxname)] {
			l.add(SeverityWarning, "non_idempotent_create",
				fmt.Sprintf("CREATE INDEX %s fails when re-run\n  Use: CREATE INDEX IF NOT EXISTS", node.IndexStmt.Idxname))
		}

	case *pg_query.Node_CreateSchemaStmt:
		if !node.CreateSchemaStmt.IfNotExists {
			l.add(SeverityWarning, "non_idempotent_create",
				fmt.Sprintf("CREATE SCHEMA %s fails when re-run\n  Use: CREATE SCHEMA IF NOT EXISTS", node.CreateSchemaStmt.Schemaname))
		}

	case *pg_query.Node_CreateExtensionStmt:
		if !node.CreateExtensionStmt.IfNotExists {
			l.add(SeverityWarning, "non_idempotent_create",
				fmt.Sprintf("CREATE EXTENSION %s fails when re-run\n  Use: CREATE EXTENSION IF NOT EXISTS", node.CreateExtensionStmt.Extname))
		}

	case *pg_query.Node_CreateFunctionStmt:
		fn := node.CreateFunctionStmt
		name := listName(fn.Funcname)
		if !fn.Replace && !l.guards[key("function", name)] {
			l.add(SeverityWarning, "non_idempotent_create",
				fmt.Sprintf("CREATE FUNCTION %s fails when re-run\n  Use: CREATE OR REPLACE FUNCTION", name))
		}

	case *pg_query.Node_CreateTrigStmt:
		trig := node.CreateTrigStmt
		name := trig.Trigname + " ON " + rangeVarName(trig.Relation)
		if !trig.Replace && !l.guards[key("trigger", rangeVarName(trig.Relation)+"."+trig.Trigname)] {
			l.add(SeverityWarning, "non_idempotent_create",
				fmt.Sprintf("CREATE TRIGGER %s fails when re-run\n  Precede it with: DROP TRIGGER IF EXISTS %s", name, name))
		}

	case *pg_query.Node_CreatePolicyStmt:
		pol := node.CreatePolicyStmt
		table := rangeVarName(pol.Table)
		if !l.guards[key("policy", table+"."+pol.PolicyName)] {
			l.add(SeverityWarning, "unguarded_policy",
				fmt.Sprintf("CREATE POLICY %q ON %s fails when re-run\n  Precede it with: DROP POLICY IF EXISTS %q ON %s",
					pol.PolicyName, table, pol.PolicyName, table))
		}

	case *pg_query.Node_AlterTableStmt:
		l.checkAlterTable(node.AlterTableStmt)

	case *pg_query.Node_TruncateStmt:
		names := make([]string, 0, len(node.TruncateStmt.Relations))
		for _, rel := range node.TruncateStmt.Relations {
			names = append(names, relationName(rel))
		}
		l.add(SeverityError, "dangerous_truncate",
			fmt.Sprintf("TRUNCATE %s removes all rows", strings.Join(names, ", ")))

	case *pg_query.Node_DeleteStmt:
		if node.DeleteStmt.WhereClause == nil {
			name := rangeVarName(node.DeleteStmt.Relation)
			l.add(SeverityError, "dangerous_delete_all",
				fmt.Sprintf("DELETE FROM %s without WHERE removes all rows\n  If intended, use: DELETE FROM %s WHERE true", name, name))
		}
	}
}

func (l *linter) checkDrop(drop *pg_query.DropStmt) {
	kind := objectKind(drop.RemoveType)

	for _, obj := range drop.Objects {
		name := objectName(obj)
		if drop.MissingOk {
			l.guards[key(kind, name)] = true
		} else {
			l.add(SeverityWarning, "non_idempotent_drop",
				fmt.Sprintf("DROP %s %s fails when the object is already gone\n  Use: DROP %s IF EXISTS",
					strings.ToUpper(kind), name, strings.ToUpper(kind)))
		}

		if drop.RemoveType == pg_query.ObjectType_OBJECT_TABLE {
			cascade := ""
			if drop.Behavior == pg_query.DropBehavior_DROP_CASCADE {
				cascade = " CASCADE"
			}
			l.add(SeverityError, "destructive_drop",
				fmt.Sprintf("DROP TABLE %s%s permanently deletes all of its data", name, cascade))
		}
	}
}

func (l *linter) checkAlterTable(alter *pg_query.AlterTableStmt) {
	table := rangeVarName(alter.Relation)

	for _, cmd := range alter.Cmds {
		ac, ok := cmd.Node.(*pg_query.Node_AlterTableCmd)
		if !ok {
			continue
		}
		switch ac.AlterTableCmd.Subtype {
		case pg_query.AlterTableType_AT_AddColumn:
			if ac.AlterTableCmd.MissingOk {
				continue
			}
			col := ""
			if def, ok := ac.AlterTableCmd.Def.GetNode().(*pg_query.Node_ColumnDef); ok {
				col = def.ColumnDef.Colname
			}
			l.add(SeverityWarning, "non_idempotent_create",
				fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s fails when re-run\n  Use: ADD COLUMN IF NOT EXISTS", table, col))
		case pg_query.AlterTableType_AT_DropColumn:
			l.add(SeverityError, "destructive_drop",
				fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s permanently deletes the column's data", table, ac.AlterTableCmd.Name))
		}
	}
}

func key(kind, name string) string {
	return kind + ":" + strings.TrimPrefix(strings.ToLower(name), "public.")
}

func objectKind(t pg_query.ObjectType) string {
	switch t {
	case pg_query.ObjectType_OBJECT_TABLE:
		return "table"
	case pg_query.ObjectType_OBJECT_INDEX:
		return "index"
	case pg_query.ObjectType_OBJECT_POLICY:
		return "policy"
	case pg_query.ObjectType_OBJECT_TRIGGER:
		return "trigger"
	case pg_query.ObjectType_OBJECT_FUNCTION:
		return "function"
	case pg_query.ObjectType_OBJECT_VIEW:
		return "view"
	case pg_query.ObjectType_OBJECT_SCHEMA:
		return "schema"
	case pg_query.ObjectType_OBJECT_TYPE:
		return "type"
	default:
		return "object"
	}
}

// objectName flattens a drop target. Policies and triggers come back as
// table.name; functions carry their argument list, which is ignored.
func objectName(obj *pg_query.Node) string {
	switch n := obj.Node.(type) {
	case *pg_query.Node_List:
		return listName(n.List.Items)
	case *pg_query.Node_String_:
		return n.String_.Sval
	case *pg_query.Node_ObjectWithArgs:
		return listName(n.ObjectWithArgs.Objname)
	case *pg_query.Node_TypeName:
		return listName(n.TypeName.Names)
	}
	return "unknown"
}

func listName(items []*pg_query.Node) string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.Node.(*pg_query.Node_String_); ok {
			names = append(names, s.String_.Sval)
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, ".")
}

func relationName(rel *pg_query.Node) string {
	if rv, ok := rel.GetNode().(*pg_query.Node_RangeVar); ok {
		return rangeVarName(rv.RangeVar)
	}
	return "unknown"
}

func rangeVarName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "unknown"
	}
	if rv.Schemaname != "" {
		return rv.Schemaname + "." + rv.Relname
	}
	return rv.Relname
}
