package lint

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// LockMode is a PostgreSQL table lock level, weakest first.
// See https://www.postgresql.org/docs/current/explicit-locking.html
type LockMode int

const (
	LockAccessShare LockMode = iota
	LockRowShare
	LockRowExclusive
	LockShareUpdateExclusive
	LockShare
	LockShareRowExclusive
	LockExclusive
	LockAccessExclusive
)

func (l LockMode) String() string {
	switch l {
	case LockAccessShare:
		return "ACCESS SHARE"
	case LockRowShare:
		return "ROW SHARE"
	case LockRowExclusive:
		return "ROW EXCLUSIVE"
	case LockShareUpdateExclusive:
		return "SHARE UPDATE EXCLUSIVE"
	case LockShare:
		return "SHARE"
	case LockShareRowExclusive:
		return "SHARE ROW EXCLUSIVE"
	case LockExclusive:
		return "EXCLUSIVE"
	case LockAccessExclusive:
		return "ACCESS EXCLUSIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(l))
	}
}

// BlocksReads reports whether SELECTs wait behind this lock.
func (l LockMode) BlocksReads() bool {
	return l == LockAccessExclusive
}

// BlocksWrites reports whether INSERT, UPDATE and DELETE wait behind this lock.
func (l LockMode) BlocksWrites() bool {
	return l >= LockShare
}

// checkLocks warns about statements that hold a blocking lock on an existing
// table for longer than a catalog update: index builds, constraint
// validation scans and column rewrites. Tables created earlier in the run
// are empty, so work on them is instant.
func (l *linter) checkLocks(stmt *pg_query.Node) {
	switch node := stmt.Node.(type) {
	case *pg_query.Node_CreateStmt:
		l.created[key("table", rangeVarName(node.CreateStmt.Relation))] = true

	case *pg_query.Node_IndexStmt:
		idx := node.IndexStmt
		table := rangeVarName(idx.Relation)
		if idx.Concurrent || l.created[key("table", table)] {
			return
		}
		l.addLock(LockShare, table, fmt.Sprintf("CREATE INDEX %s", idx.Idxname),
			"Use: CREATE INDEX CONCURRENTLY (outside a transaction)")

	case *pg_query.Node_AlterTableStmt:
		table := rangeVarName(node.AlterTableStmt.Relation)
		if l.created[key("table", table)] {
			return
		}
		for _, cmd := range node.AlterTableStmt.Cmds {
			ac, ok := cmd.Node.(*pg_query.Node_AlterTableCmd)
			if !ok {
				continue
			}
			switch ac.AlterTableCmd.Subtype {
			case pg_query.AlterTableType_AT_AddConstraint:
				con, ok := ac.AlterTableCmd.Def.GetNode().(*pg_query.Node_Constraint)
				if !ok || con.Constraint.SkipValidation {
					continue
				}
				switch con.Constraint.Contype {
				case pg_query.ConstrType_CONSTR_CHECK:
					l.addLock(LockAccessExclusive, table,
						fmt.Sprintf("ADD CONSTRAINT %s scans every row", con.Constraint.Conname),
						"Use: ADD CONSTRAINT ... NOT VALID, then VALIDATE CONSTRAINT")
				case pg_query.ConstrType_CONSTR_FOREIGN:
					// The referenced table is locked in the same mode.
					l.addLock(LockShareRowExclusive, table,
						fmt.Sprintf("ADD CONSTRAINT %s scans every row against %s", con.Constraint.Conname, rangeVarName(con.Constraint.Pktable)),
						"Use: ADD CONSTRAINT ... NOT VALID, then VALIDATE CONSTRAINT")
				}
			case pg_query.AlterTableType_AT_AlterColumnType:
				l.addLock(LockAccessExclusive, table,
					fmt.Sprintf("ALTER COLUMN %s TYPE may rewrite the table", ac.AlterTableCmd.Name),
					"Add a new column, backfill it, then swap")
			}
		}
	}
}

func (l *linter) addLock(mode LockMode, table, what, hint string) {
	blocks := "writes"
	if mode.BlocksReads() {
		blocks = "reads and writes"
	}
	l.add(SeverityWarning, "blocking_lock",
		fmt.Sprintf("%s takes a %s lock on %s, blocking %s until it finishes\n  %s", what, mode, table, blocks, hint))
}
