// proof-of-human/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order. Additive only: a column
// added with a default must never lose existing records.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Attempt counting arrived after the first deployments; older challenge rows
-- get the zero default.
ALTER TABLE challenges ADD COLUMN attempts INTEGER DEFAULT 0;
		`,
	},
	{
		Version: 2,
		Query: `
-- Per-chat wrong-attempt limit, previously a process-wide constant.
ALTER TABLE chats ADD COLUMN max_attempts INTEGER DEFAULT 2;
		`,
	},
}
