package rag

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create documents with FTS5",
		SQL: `
			CREATE TABLE documents (
				id          TEXT PRIMARY KEY,
				tenant_id   TEXT NOT NULL,
				title       TEXT NOT NULL DEFAULT '',
				content     TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_documents_tenant ON documents (tenant_id);

			CREATE VIRTUAL TABLE knowledge_fts USING fts5(
				title,
				content,
				content='documents',
				content_rowid='rowid'
			);

			CREATE TRIGGER documents_ai AFTER INSERT ON documents BEGIN
				INSERT INTO knowledge_fts(rowid, title, content)
				VALUES (new.rowid, new.title, new.content);
			END;

			CREATE TRIGGER documents_ad AFTER DELETE ON documents BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content)
				VALUES ('delete', old.rowid, old.title, old.content);
			END;

			CREATE TRIGGER documents_au AFTER UPDATE ON documents BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content)
				VALUES ('delete', old.rowid, old.title, old.content);
				INSERT INTO knowledge_fts(rowid, title, content)
				VALUES (new.rowid, new.title, new.content);
			END;
		`,
	},
}
