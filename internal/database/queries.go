package database

// SQL shared by the Postgres order store. Column lists match the scan order
// used by the store's row helpers.

const OrderColumns = `id, description, status, requester_id, performer_id, result_photo_count,
	revision_comment, decline_reason, declined_by, created_at, updated_at`

const (
	QueryRequesterByPlatformID = `
		SELECT id, tg_id, name, surname, address, banned, created_at
		FROM requesters
		WHERE tg_id = $1`

	QueryRequesterByID = `
		SELECT id, tg_id, name, surname, address, banned, created_at
		FROM requesters
		WHERE id = $1`

	QueryPerformerByPlatformID = `
		SELECT id, tg_id, name, order_price, created_at
		FROM performers
		WHERE tg_id = $1`

	QueryPerformerByID = `
		SELECT id, tg_id, name, order_price, created_at
		FROM performers
		WHERE id = $1`

	QueryListPerformers = `
		SELECT id, tg_id, name, order_price, created_at
		FROM performers
		ORDER BY id`
)

const (
	QueryInsertOrder = `
		INSERT INTO orders (description, status, requester_id)
		VALUES ($1, $2, $3)
		RETURNING id`

	QueryInsertPhoto = `
		INSERT INTO order_photos (order_id, seq, round, media_ref)
		VALUES ($1, $2, $3, $4)`

	QueryPhotoCursor = `
		SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(round), 0)
		FROM order_photos
		WHERE order_id = $1`

	QueryLockOrderStatus = `
		SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	QueryLockPerformer = `
		SELECT id FROM performers WHERE id = $1 FOR UPDATE`

	QueryCountInProgress = `
		SELECT COUNT(*) FROM orders
		WHERE performer_id = $1 AND status = 'in_progress'`

	QueryTransitionOrder = `
		UPDATE orders
		SET status = $2,
			performer_id = COALESCE($3, performer_id),
			result_photo_count = COALESCE($4, result_photo_count),
			revision_comment = COALESCE($5, revision_comment),
			decline_reason = COALESCE($6, decline_reason),
			declined_by = COALESCE($7, declined_by),
			updated_at = NOW()
		WHERE id = $1 AND status = $8`

	QueryGetOrder = `SELECT ` + OrderColumns + ` FROM orders WHERE id = $1`

	QueryOrdersByStatus = `SELECT ` + OrderColumns + ` FROM orders WHERE status = $1 ORDER BY id`

	QueryRequesterOrders = `SELECT ` + OrderColumns + `
		FROM orders
		WHERE requester_id = $1 AND status = $2
		ORDER BY id`

	QueryOverdueUnclaimed = `SELECT ` + OrderColumns + `
		FROM orders
		WHERE status = 'awaiting_performer' AND created_at < $1
		ORDER BY created_at`

	QueryListPhotos = `
		SELECT order_id, seq, round, media_ref
		FROM order_photos
		WHERE order_id = $1
		ORDER BY seq`
)

const (
	QueryListMessages = `
		SELECT order_id, performer_id, chat_id, message_id
		FROM order_messages
		WHERE order_id = $1
		ORDER BY performer_id`

	QueryInsertMessage = `
		INSERT INTO order_messages (order_id, performer_id, chat_id, message_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, performer_id) DO NOTHING`

	QueryUpsertPending = `
		INSERT INTO pending_interactions (order_id, actor_id, kind, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO UPDATE
		SET actor_id = EXCLUDED.actor_id, kind = EXCLUDED.kind, payload = EXCLUDED.payload, created_at = NOW()`

	QueryGetPending = `
		SELECT order_id, actor_id, kind, payload, created_at
		FROM pending_interactions
		WHERE order_id = $1`

	QueryDeletePending = `DELETE FROM pending_interactions WHERE order_id = $1`
)

const QueryCompletedReport = `
	SELECT o.id, o.created_at, o.result_photo_count,
		r.id, r.tg_id, r.name, r.surname, r.address,
		p.id, p.name, p.order_price
	FROM orders o
	JOIN requesters r ON r.id = o.requester_id
	JOIN performers p ON p.id = o.performer_id
	WHERE o.status = 'completed'
	ORDER BY o.created_at`
