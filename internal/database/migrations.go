package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order on every start; each statement is idempotent.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
  id            UUID PRIMARY KEY,
  name          TEXT NOT NULL,
  email         TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role          TEXT NOT NULL DEFAULT 'client' CHECK (role IN ('client','admin')),
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	`
CREATE TABLE IF NOT EXISTS inscriptions (
  id         BIGSERIAL PRIMARY KEY,
  user_id    UUID NOT NULL REFERENCES users(id),
  status     TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	`
CREATE TABLE IF NOT EXISTS work_permits (
  id         BIGSERIAL PRIMARY KEY,
  user_id    UUID NOT NULL REFERENCES users(id),
  status     TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	`
CREATE TABLE IF NOT EXISTS residences (
  id         BIGSERIAL PRIMARY KEY,
  user_id    UUID NOT NULL REFERENCES users(id),
  status     TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  id               BIGSERIAL PRIMARY KEY,
  sender_id        UUID NOT NULL REFERENCES users(id),
  receiver_id      UUID NOT NULL REFERENCES users(id),
  content          TEXT,
  application_type TEXT CHECK (application_type IN ('inscription','work_permit','residence')),
  inscription_id   BIGINT REFERENCES inscriptions(id),
  work_permit_id   BIGINT REFERENCES work_permits(id),
  residence_id     BIGINT REFERENCES residences(id),
  status_update    TEXT,
  file_path        TEXT,
  file_name        TEXT,
  file_type        TEXT,
  file_size        BIGINT,
  is_read          BOOLEAN NOT NULL DEFAULT FALSE,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CHECK (sender_id <> receiver_id),
  CHECK (
    (application_type IS NULL AND inscription_id IS NULL AND work_permit_id IS NULL AND residence_id IS NULL)
    OR (application_type = 'inscription' AND inscription_id IS NOT NULL AND work_permit_id IS NULL AND residence_id IS NULL)
    OR (application_type = 'work_permit' AND work_permit_id IS NOT NULL AND inscription_id IS NULL AND residence_id IS NULL)
    OR (application_type = 'residence' AND residence_id IS NOT NULL AND inscription_id IS NULL AND work_permit_id IS NULL)
  ),
  CHECK (
    (file_path IS NULL AND file_name IS NULL AND file_type IS NULL AND file_size IS NULL)
    OR (file_path IS NOT NULL AND file_name IS NOT NULL AND file_type IS NOT NULL AND file_size IS NOT NULL)
  )
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_pair_time
ON messages (sender_id, receiver_id, created_at, id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_unread
ON messages (receiver_id) WHERE NOT is_read;
`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}
