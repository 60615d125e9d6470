package signals

// Shared CTEs. $1 is the run timestamp; the activity window is anchored to it.
const (
	cteGuideActivity = `
guide_activity AS (
    SELECT
        (original_data->>'id')::bigint AS guide_id,
        COUNT(DISTINCT DATE(action_tstamp)) AS days_active
    FROM audit.logged_actions
    WHERE table_name = 'guide_profile'
      AND original_data->>'availability_state' IS DISTINCT FROM new_data->>'availability_state'
      AND action_tstamp >= $1::timestamptz - INTERVAL '30 days'
      AND action_tstamp <= $1::timestamptz
    GROUP BY original_data->>'id'
)`

	cteRepeatFunnel = `
guide_spends AS (
    SELECT t.user_id, wo.consultant_id AS guide_id, t.created_at AS spent_at,
           ROW_NUMBER() OVER (PARTITION BY t.user_id, wo.consultant_id ORDER BY t.created_at) AS spend_num
    FROM wallet.wallet_transactions t
    JOIN wallet.wallet_orders wo ON wo.order_id = t.order_id
    WHERE t.type = 'SPENT' AND t.created_at <= $1::timestamptz
),
user_first_spend AS (
    SELECT user_id, guide_id, spent_at AS first_spent_at
    FROM guide_spends WHERE spend_num = 1
),
user_adds_after_spend AS (
    SELECT DISTINCT ufs.user_id, ufs.guide_id
    FROM user_first_spend ufs
    JOIN wallet.wallet_transactions t ON t.user_id = ufs.user_id
        AND t.type = 'ADD' AND t.created_at > ufs.first_spent_at
        AND t.created_at <= $1::timestamptz
),
user_repeat_spend AS (
    SELECT DISTINCT uaas.user_id, uaas.guide_id
    FROM user_adds_after_spend uaas
    JOIN guide_spends gs ON gs.user_id = uaas.user_id
        AND gs.guide_id = uaas.guide_id AND gs.spend_num > 1
),
repeat_stats AS (
    SELECT
        ufs.guide_id,
        COUNT(DISTINCT ufs.user_id) AS total_customers,
        COUNT(DISTINCT urs.user_id) AS repeat_customers
    FROM user_first_spend ufs
    LEFT JOIN user_repeat_spend urs ON urs.user_id = ufs.user_id AND urs.guide_id = ufs.guide_id
    GROUP BY ufs.guide_id
)`

	// eligibleGuides filters soft-deleted, flagged test accounts and the
	// explicit exclusion list ($2).
	eligibleGuides = `
    WHERE g.deleted_at IS NULL
      AND NOT COALESCE(g.is_test_account, false)
      AND NOT (g.id = ANY($2::bigint[]))`
)

// aggregateQuery returns one row per eligible guide with the raw signals.
const aggregateQuery = `
WITH` + cteGuideActivity + `,
consultation_stats AS (
    SELECT
        c.guide_id,
        COUNT(*) FILTER (WHERE c.state = 'completed') AS completed,
        COUNT(DISTINCT c.customer_id) FILTER (WHERE c.state = 'completed') AS unique_customers,
        COUNT(*) FILTER (WHERE c.state IN ('completed', 'cancelled', 'guide_rejected')) AS total_cons,
        COUNT(*) FILTER (WHERE c.state IN ('cancelled', 'guide_rejected')) AS cancelled,
        AVG(EXTRACT(EPOCH FROM (c.accepted_at - c.requested_at)))
            FILTER (WHERE c.state = 'completed' AND c.requested_at IS NOT NULL AND c.accepted_at IS NOT NULL) AS avg_response_seconds
    FROM consultation.consultation c
    WHERE c.deleted_at IS NULL
    GROUP BY c.guide_id
),
feedback_stats AS (
    SELECT
        c.guide_id,
        COUNT(f.id) AS review_count,
        AVG(f.rating) AS avg_rating
    FROM consultation.consultation c
    JOIN consultation.feedback f ON f.consultation_id = c.id AND f.deleted_at IS NULL
    WHERE c.state = 'completed' AND c.deleted_at IS NULL
    GROUP BY c.guide_id
),
order_stats AS (
    SELECT
        wo.consultant_id AS guide_id,
        AVG(ABS(t.real_cash_delta)) AS avg_order_value,
        PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY ABS(t.real_cash_delta)) AS median_order_value
    FROM wallet.wallet_transactions t
    JOIN wallet.wallet_orders wo ON wo.order_id = t.order_id
    WHERE t.type = 'SPENT' AND t.real_cash_delta < 0
    GROUP BY wo.consultant_id
),` + cteRepeatFunnel + `
SELECT
    g.id,
    COALESCE(g.full_name, ''),
    COALESCE(cs.completed, 0),
    COALESCE(fs.review_count, 0),
    COALESCE(fs.avg_rating, 0)::float8,
    COALESCE(cs.unique_customers, 0),
    COALESCE(cs.completed, 0) AS total_bookings,
    COALESCE(rs.repeat_customers, 0),
    COALESCE(rs.total_customers, 0),
    COALESCE(os.avg_order_value, 0)::float8,
    COALESCE(os.median_order_value, 0)::float8,
    cs.avg_response_seconds::float8,
    COALESCE(cs.total_cons, 0),
    COALESCE(cs.cancelled, 0),
    COALESCE(ga.days_active, 0),
    EXTRACT(EPOCH FROM ($1::timestamptz - g.created_at))::float8 AS account_age_seconds
FROM guide.guide_profile g
LEFT JOIN guide_activity ga ON ga.guide_id = g.id
LEFT JOIN consultation_stats cs ON cs.guide_id = g.id
LEFT JOIN feedback_stats fs ON fs.guide_id = g.id
LEFT JOIN order_stats os ON os.guide_id = g.id
LEFT JOIN repeat_stats rs ON rs.guide_id = g.id` + eligibleGuides + `
ORDER BY g.id`

// overlayQuery returns the relational-only signals used by the hybrid source:
// repeat funnel, activity days and account age.
const overlayQuery = `
WITH` + cteGuideActivity + `,` + cteRepeatFunnel + `
SELECT
    g.id,
    COALESCE(rs.repeat_customers, 0),
    COALESCE(rs.total_customers, 0),
    COALESCE(ga.days_active, 0),
    EXTRACT(EPOCH FROM ($1::timestamptz - g.created_at))::float8 AS account_age_seconds
FROM guide.guide_profile g
LEFT JOIN guide_activity ga ON ga.guide_id = g.id
LEFT JOIN repeat_stats rs ON rs.guide_id = g.id` + eligibleGuides + `
ORDER BY g.id`
