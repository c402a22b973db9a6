package postgres

import (
	"fmt"
	"strings"

	"github.com/atlasgate/portal/internal/domain"
)

const messageSelect = `
	SELECT m.id, m.sender_id, m.receiver_id, m.content, m.application_type,
		m.inscription_id, m.work_permit_id, m.residence_id, m.status_update,
		m.file_path, m.file_name, m.file_type, m.file_size, m.is_read, m.created_at,
		s.name, s.email, r.name, r.email
	FROM messages m
	JOIN users s ON m.sender_id = s.id
	JOIN users r ON m.receiver_id = r.id`

const generalMessage = `(m.inscription_id IS NULL AND m.work_permit_id IS NULL AND m.residence_id IS NULL)`

var applicationColumns = map[domain.ApplicationType]string{
	domain.ApplicationInscription: "inscription_id",
	domain.ApplicationWorkPermit:  "work_permit_id",
	domain.ApplicationResidence:   "residence_id",
}

var applicationTables = map[domain.ApplicationType]string{
	domain.ApplicationInscription: "inscriptions",
	domain.ApplicationWorkPermit:  "work_permits",
	domain.ApplicationResidence:   "residences",
}

// buildConversationQuery turns a filter into SQL and positional args.
// newestFirst is true when the rows come back DESC and must be reversed
// before they are handed out.
func buildConversationQuery(f domain.ConversationFilter) (query string, args []any, newestFirst bool) {
	f = f.Normalize()

	args = []any{f.UserA, f.UserB}
	where := []string{
		"((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))",
	}

	if f.Context != nil {
		args = append(args, string(f.Context.Type), f.Context.ID)
		where = append(where, fmt.Sprintf("(%s OR (m.application_type = $%d AND m.%s = $%d))",
			generalMessage, len(args)-1, applicationColumns[f.Context.Type], len(args)))
	}

	if f.SinceID != nil {
		args = append(args, *f.SinceID)
		where = append(where, fmt.Sprintf("m.id > $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(messageSelect)
	b.WriteString("\n\tWHERE ")
	b.WriteString(strings.Join(where, "\n\t\tAND "))

	if f.Limit > 0 {
		fmt.Fprintf(&b, "\n\tORDER BY m.created_at DESC, m.id DESC\n\tLIMIT %d", f.Limit)
		return b.String(), args, true
	}

	b.WriteString("\n\tORDER BY m.created_at ASC, m.id ASC")
	return b.String(), args, false
}
