package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter parks undeliverable outbox events for the DLQ manager.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// WriteBatch stores every message with the same failure reason. Messages are
// grouped by tenant and each tenant's group is written in one transaction,
// so a tenant's events land in the DLQ together or not at all.
func (w *DLQWriter) WriteBatch(ctx context.Context, messages []Message, reason string) error {
	byTenant := make(map[string][]Message)
	order := make([]string, 0, 1)
	for _, msg := range messages {
		if _, ok := byTenant[msg.TenantID]; !ok {
			order = append(order, msg.TenantID)
		}
		byTenant[msg.TenantID] = append(byTenant[msg.TenantID], msg)
	}

	for _, tenantID := range order {
		if err := w.writeTenant(ctx, tenantID, byTenant[tenantID], reason); err != nil {
			return fmt.Errorf("dlq write for tenant %s: %w", tenantID, err)
		}
	}
	return nil
}

func (w *DLQWriter) writeTenant(ctx context.Context, tenantID string, messages []Message, reason string) error {
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, msg := range messages {
			batch.Queue(
				`INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
                 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`,
				msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload,
				fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
				msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
