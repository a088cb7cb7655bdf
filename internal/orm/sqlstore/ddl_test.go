package sqlstore

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/conduit-lang/restful/internal/orm/schema/schematest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDDL_Postgres(t *testing.T) {
	stmts, err := DDL(schematest.Blog(t), Postgres{})
	require.NoError(t, err)
	require.Len(t, stmts, 8)

	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "users" (
  "id" INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  "email" TEXT NOT NULL UNIQUE,
  "name" TEXT,
  "role" TEXT NOT NULL
)`, stmts[0])

	all := strings.Join(stmts, "\n")
	assert.Contains(t, all, `"labels" TEXT[] NOT NULL`)
	assert.Contains(t, all, `"price" NUMERIC,`)
	assert.Contains(t, all, `"created_at" TIMESTAMPTZ NOT NULL`)
	assert.Contains(t, all, `FOREIGN KEY ("author_id") REFERENCES "users" ("id") ON DELETE SET NULL`)
	assert.Contains(t, all, `FOREIGN KEY ("post_id") REFERENCES "posts" ("id") ON DELETE RESTRICT`)
	assert.Contains(t, all, `"id" TEXT PRIMARY KEY`)
	assert.Contains(t, all, `PRIMARY KEY ("user_id", "group_id")`)

	index := func(table string) int {
		for i, s := range stmts {
			if strings.HasPrefix(s, `CREATE TABLE IF NOT EXISTS "`+table+`"`) {
				return i
			}
		}
		return -1
	}
	assert.Less(t, index("users"), index("posts"))
	assert.Less(t, index("posts"), index("comments"))
	assert.Equal(t, len(stmts)-1, index("post_tags"))
	assert.Contains(t, stmts[index("post_tags")], `"tag_id" TEXT NOT NULL REFERENCES "tags" ("id") ON DELETE CASCADE`)
}

func TestDDL_SQLite(t *testing.T) {
	stmts, err := DDL(schematest.Blog(t), SQLite{})
	require.NoError(t, err)

	all := strings.Join(stmts, "\n")
	assert.Contains(t, all, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Contains(t, all, `"labels" TEXT NOT NULL`)
	assert.Contains(t, all, `"created_at" DATETIME NOT NULL`)
	assert.Contains(t, all, `"published" BOOLEAN NOT NULL`)
}

func TestStore_Migrate(t *testing.T) {
	s, mock := newMockStore(t)
	stmts, err := DDL(s.meta, s.dialect)
	require.NoError(t, err)

	for _, stmt := range stmts {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
