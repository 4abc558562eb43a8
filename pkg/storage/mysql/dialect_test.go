package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMySQLDialect_InsertIgnoreSQL(t *testing.T) {
	d := NewMySQLDialect()
	got := d.InsertIgnoreSQL("workflow_status", []string{"id", "name"}, []string{"id"})
	assert.Equal(t, "INSERT IGNORE INTO workflow_status (id, name) VALUES (:id, :name)", got)
}

func TestMySQLDialect_CreateTableSQL(t *testing.T) {
	d := NewMySQLDialect()
	got := d.CreateTableSQL("CREATE TABLE t (input TEXT, created_at DATETIME NOT NULL)")
	assert.Contains(t, got, "input MEDIUMTEXT")
	assert.Contains(t, got, "DATETIME(6)")
	assert.Contains(t, got, "ENGINE=InnoDB")
}

func TestMySQLDialect_ConfigureDB(t *testing.T) {
	assert.Empty(t, NewMySQLDialect().ConfigureDB())
}

func TestNormalizeDSN(t *testing.T) {
	const tz = "&time_zone=%27%2B00%3A00%27"
	assert.Equal(t, "u:p@tcp(db:3306)/durable?parseTime=true&loc=UTC"+tz, normalizeDSN("u:p@tcp(db:3306)/durable"))
	assert.Equal(t, "u:p@tcp(db:3306)/durable?parseTime=true&loc=UTC"+tz, normalizeDSN("u:p@tcp(db:3306)/durable?parseTime=true"))
	assert.Equal(t, "u:p@/d?loc=Local&parseTime=true"+tz, normalizeDSN("u:p@/d?loc=Local"))
	assert.Equal(t, "u:p@/d?time_zone=%27Asia%2FShanghai%27&parseTime=true&loc=UTC", normalizeDSN("u:p@/d?time_zone=%27Asia%2FShanghai%27"))
}
