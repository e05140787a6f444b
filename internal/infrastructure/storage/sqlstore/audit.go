package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zstd"

	"tenantdb/internal/core/clock"
	appctx "tenantdb/internal/core/context"
	"tenantdb/internal/core/events"
	"tenantdb/internal/core/id"
	"tenantdb/internal/core/model"
)

// CompressionAlgo specifies the compression applied to a snapshot.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the snapshot size above which zstd kicks in.
const DefaultCompressThreshold = 10 * 1024

// AuditEntry is one row of sys_audit.
type AuditEntry struct {
	ID              id.ID           `db:"id"`
	EntityType      string          `db:"entity_type"`
	EntityKey       string          `db:"entity_key"`
	TenantID        *int64          `db:"tenant_id"`
	Action          string          `db:"action"`
	UserID          *int64          `db:"user_id"`
	Snapshot        []byte          `db:"snapshot"`
	SnapshotZstd    []byte          `db:"snapshot_compressed"`
	CompressionAlgo CompressionAlgo `db:"compression_algo"`
	CreatedAt       time.Time       `db:"created_at"`
}

var auditColumns = []string{
	"id", "entity_type", "entity_key", "tenant_id", "action", "user_id",
	"snapshot", "snapshot_compressed", "compression_algo", "created_at",
}

// AuditSink records every committed entity change in sys_audit.
type AuditSink struct {
	router            Router
	clock             clock.Clock
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditSink creates a sink; threshold <= 0 selects DefaultCompressThreshold.
func NewAuditSink(router Router, clk clock.Clock, threshold int) (*AuditSink, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &AuditSink{
		router:            router,
		clock:             clk,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: threshold,
	}, nil
}

// Handle implements events.Handler. Domain events are ignored.
func (s *AuditSink) Handle(ctx context.Context, msg events.Message) error {
	if msg.Change == nil {
		return nil
	}
	change := msg.Change

	snapshot, err := json.Marshal(model.StructToMap(change.Entity))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	entry := AuditEntry{
		ID:              id.New(),
		EntityType:      change.EntityType,
		EntityKey:       fmt.Sprint(change.Key),
		TenantID:        change.TenantID,
		Action:          change.Type.String(),
		UserID:          appctx.GetUserID(ctx),
		CompressionAlgo: CompressionNone,
		CreatedAt:       s.clock.Now(),
	}
	if len(snapshot) > s.compressThreshold {
		entry.SnapshotZstd = s.encoder.EncodeAll(snapshot, nil)
		entry.CompressionAlgo = CompressionZstd
	} else {
		entry.Snapshot = snapshot
	}

	conn, err := s.router.Conn(ctx)
	if err != nil {
		return err
	}
	sql, args, err := Builder(conn).Insert("sys_audit").
		Columns(auditColumns...).
		Values(entry.ID, entry.EntityType, entry.EntityKey, entry.TenantID, entry.Action, entry.UserID,
			entry.Snapshot, entry.SnapshotZstd, entry.CompressionAlgo, entry.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := conn.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// History returns the newest entries for one entity, snapshots decompressed.
func (s *AuditSink) History(ctx context.Context, entityType string, key any, limit int) ([]AuditEntry, error) {
	conn, err := s.router.Conn(ctx)
	if err != nil {
		return nil, err
	}
	q := Builder(conn).Select(auditColumns...).From("sys_audit").
		Where(squirrel.Eq{"entity_type": entityType, "entity_key": fmt.Sprint(key)}).
		OrderBy("created_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit history: %w", err)
	}

	var entries []AuditEntry
	if err := conn.Querier(ctx).Select(ctx, &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		if e.CompressionAlgo == CompressionZstd && len(e.SnapshotZstd) > 0 {
			decompressed, err := s.decoder.DecodeAll(e.SnapshotZstd, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress snapshot: %w", err)
			}
			e.Snapshot = decompressed
			e.SnapshotZstd = nil
		}
	}
	return entries, nil
}
