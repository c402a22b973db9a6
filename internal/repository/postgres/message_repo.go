package postgres

import (
	"context"
	"errors"
	"slices"

	"github.com/atlasgate/portal/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	appType, inscriptionID, workPermitID, residenceID := applicationValues(msg.Application)

	var filePath, fileName, fileType *string
	var fileSize *int64
	if a := msg.Attachment; a != nil {
		filePath, fileName, fileType, fileSize = &a.Path, &a.Name, &a.Type, &a.Size
	}

	query := `
		INSERT INTO messages (sender_id, receiver_id, content, application_type,
			inscription_id, work_permit_id, residence_id, status_update,
			file_path, file_name, file_type, file_size, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.SenderID, msg.ReceiverID, msg.Content, appType,
		inscriptionID, workPermitID, residenceID, msg.StatusUpdate,
		filePath, fileName, fileType, fileSize, msg.IsRead,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx, messageSelect+"\n\tWHERE m.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (r *MessageRepo) ListConversation(ctx context.Context, filter domain.ConversationFilter) ([]domain.Message, error) {
	query, args, newestFirst := buildConversationQuery(filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order (query returns DESC)
	if newestFirst {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return messages, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET is_read = TRUE WHERE id = $1 AND NOT is_read`, id)
	return err
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, readerID, otherID uuid.UUID) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read
		RETURNING id`, readerID, otherID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read`, userID,
	).Scan(&n)
	return n, err
}

func (r *MessageRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	query := `
		SELECT u.id, u.name, u.email, c.last_message_id, c.last_message_at, c.unread
		FROM (
			SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS other_id,
				MAX(id) AS last_message_id,
				MAX(created_at) AS last_message_at,
				COUNT(*) FILTER (WHERE receiver_id = $1 AND NOT is_read) AS unread
			FROM messages
			WHERE sender_id = $1 OR receiver_id = $1
			GROUP BY other_id
		) c
		JOIN users u ON u.id = c.other_id
		ORDER BY c.last_message_at DESC, c.last_message_id DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.ConversationSummary
	for rows.Next() {
		var c domain.ConversationSummary
		if err := rows.Scan(
			&c.User.ID, &c.User.Name, &c.User.Email,
			&c.LastMessageID, &c.LastMessageAt, &c.UnreadCount,
		); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		msg                                      domain.Message
		sender, receiver                         domain.UserSummary
		appType                                  *string
		inscriptionID, workPermitID, residenceID *int64
		filePath, fileName, fileType             *string
		fileSize                                 *int64
	)
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &appType,
		&inscriptionID, &workPermitID, &residenceID, &msg.StatusUpdate,
		&filePath, &fileName, &fileType, &fileSize, &msg.IsRead, &msg.CreatedAt,
		&sender.Name, &sender.Email, &receiver.Name, &receiver.Email,
	)
	if err != nil {
		return nil, err
	}

	sender.ID, receiver.ID = msg.SenderID, msg.ReceiverID
	msg.Sender, msg.Receiver = &sender, &receiver
	msg.Application = applicationFromColumns(appType, inscriptionID, workPermitID, residenceID)
	if filePath != nil && fileName != nil && fileType != nil && fileSize != nil {
		msg.Attachment = &domain.Attachment{Path: *filePath, Name: *fileName, Type: *fileType, Size: *fileSize}
	}
	return &msg, nil
}

func applicationValues(app *domain.ApplicationContext) (appType *string, inscriptionID, workPermitID, residenceID *int64) {
	if app == nil || !app.Valid() {
		return nil, nil, nil, nil
	}
	t, id := string(app.Type), app.ID
	switch app.Type {
	case domain.ApplicationInscription:
		return &t, &id, nil, nil
	case domain.ApplicationWorkPermit:
		return &t, nil, &id, nil
	default:
		return &t, nil, nil, &id
	}
}

func applicationFromColumns(appType *string, inscriptionID, workPermitID, residenceID *int64) *domain.ApplicationContext {
	if appType == nil {
		return nil
	}
	var id *int64
	switch domain.ApplicationType(*appType) {
	case domain.ApplicationInscription:
		id = inscriptionID
	case domain.ApplicationWorkPermit:
		id = workPermitID
	case domain.ApplicationResidence:
		id = residenceID
	}
	if id == nil {
		return nil
	}
	return &domain.ApplicationContext{Type: domain.ApplicationType(*appType), ID: *id}
}
