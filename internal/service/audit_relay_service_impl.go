package service

import (
	"context"
	"log/slog"

	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/repository"
)

// AuditRelayServiceImpl implements AuditRelayService for draining the audit outbox.
type AuditRelayServiceImpl struct {
	auditRepo      repository.AuditRepository
	transactionMgr repository.TransactionManager
	publisher      AuditPublisher
	logger         *slog.Logger
}

// NewAuditRelayServiceImpl creates a new AuditRelayService implementation.
func NewAuditRelayServiceImpl(
	auditRepo repository.AuditRepository,
	transactionMgr repository.TransactionManager,
	publisher AuditPublisher,
	l *slog.Logger,
) AuditRelayService {
	return &AuditRelayServiceImpl{
		auditRepo:      auditRepo,
		transactionMgr: transactionMgr,
		publisher:      publisher,
		logger:         logger.Or(l),
	}
}

// ProcessUnpublishedRecords publishes up to limit records in sequence order and returns how many were relayed.
// Publishing stops at the first failure so the stream never sees a gap followed by later records.
func (s *AuditRelayServiceImpl) ProcessUnpublishedRecords(ctx context.Context, limit int) (int, error) {
	published := 0

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		records, err := s.auditRepo.GetUnpublished(ctx, limit)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if err := s.publisher.PublishAudit(ctx, rec); err != nil {
				s.logger.Error("failed to publish audit record",
					slog.Int64("seq", rec.Seq),
					slog.String("error", err.Error()),
				)

				return nil
			}

			if err := s.auditRepo.MarkAsPublished(ctx, rec.Seq); err != nil {
				return err
			}

			published++
			s.logger.Debug("published audit record",
				slog.Int64("seq", rec.Seq),
				slog.String("action", string(rec.Action)),
			)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return published, nil
}
