package signals

// graphAggregateQuery returns the raw signals per guide. Parameters:
// $excluded (list of guide ids) and $run_time (RFC3339 string).
const graphAggregateQuery = `
MATCH (g:Guide)
WHERE g.is_deleted = false
  AND NOT coalesce(g.is_test_account, false)
  AND NOT g.id IN $excluded

OPTIONAL MATCH (c:Consultation)-[:WITH_GUIDE]->(g)
WHERE c.state = "completed"
OPTIONAL MATCH (c)-[:HAS_FEEDBACK]->(f:Feedback)
OPTIONAL MATCH (c)-[:PAID_VIA]->(wo:WalletOrder)

OPTIONAL MATCH (cust:Customer)-[:BOOKED]->(c2:Consultation)-[:WITH_GUIDE]->(g)
WHERE c2.state = "completed"

WITH g,
     COUNT(DISTINCT c) AS completed,
     AVG(CASE WHEN f.rating IS NOT NULL THEN f.rating END) AS avg_rating,
     COUNT(DISTINCT f) AS review_count,
     COUNT(DISTINCT cust.customer_id) AS unique_customers,
     COUNT(DISTINCT c2) AS total_bookings,
     AVG(wo.final_amount) AS avg_order_value,
     COLLECT(wo.final_amount) AS order_values

OPTIONAL MATCH (resp:Consultation)-[:WITH_GUIDE]->(g)
WHERE resp.state = "completed"
  AND resp.requested_at IS NOT NULL
  AND resp.accepted_at IS NOT NULL

WITH g, completed, avg_rating, review_count, unique_customers, total_bookings, avg_order_value, order_values,
     AVG(duration.inSeconds(datetime(resp.requested_at), datetime(resp.accepted_at)).seconds) AS avg_response_seconds

OPTIONAL MATCH (all_con:Consultation)-[:WITH_GUIDE]->(g)
WHERE all_con.state IN ["completed", "cancelled", "guide_rejected"]

WITH g, completed, avg_rating, review_count, unique_customers, total_bookings, avg_order_value, order_values, avg_response_seconds,
     COUNT(all_con) AS total_cons,
     SUM(CASE WHEN all_con.state IN ["cancelled", "guide_rejected"] THEN 1 ELSE 0 END) AS cancelled

CALL {
    WITH order_values
    UNWIND [x IN order_values WHERE x IS NOT NULL AND x > 0] AS ov
    WITH ov ORDER BY ov
    WITH collect(ov) AS sorted_values
    RETURN CASE WHEN size(sorted_values) > 0
                THEN sorted_values[size(sorted_values) / 2]
                ELSE 0
           END AS median_ov
}

RETURN g.id AS id,
       g.full_name AS name,
       completed,
       review_count,
       coalesce(avg_rating, 0.0) AS avg_rating,
       unique_customers,
       total_bookings,
       coalesce(avg_order_value, 0.0) AS avg_order_value,
       median_ov AS median_order_value,
       avg_response_seconds,
       total_cons,
       cancelled,
       coalesce(g.days_active_30d, 0) AS days_active,
       CASE WHEN g.created_at IS NOT NULL
            THEN duration.inSeconds(datetime(g.created_at), datetime($run_time)).seconds
            ELSE NULL
       END AS account_age_seconds
`
