// Package scheduler содержит фоновые задачи: периодическую сверку
// ожидающих платежей и архивирование старых публикаций.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/metrics"
)

// PaymentChecker выполняет один проход сверки ожидающих платежей.
type PaymentChecker interface {
	CheckPending(ctx context.Context) error
}

// PostRepository архивирует публикации старше порога.
type PostRepository interface {
	ArchiveOldPosts(ctx context.Context, cutoff time.Time) (int, error)
}

// Service запускает фоновые циклы по расписанию.
type Service struct {
	payments PaymentChecker
	posts    PostRepository
	cfg      config.SchedulerSettings
	log      *slog.Logger
}

// New создает новый экземпляр Service.
func New(payments PaymentChecker, posts PostRepository, cfg config.SchedulerSettings, log *slog.Logger) *Service {
	return &Service{
		payments: payments,
		posts:    posts,
		cfg:      cfg,
		log:      log,
	}
}

// RunPaymentSweep запускает цикл сверки платежей: немедленный проход,
// затем по таймеру до отмены контекста.
func (s *Service) RunPaymentSweep(ctx context.Context) {
	s.sweepPayments(ctx)

	ticker := time.NewTicker(s.cfg.PaymentSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("payment sweep stopped")
			return
		case <-ticker.C:
			s.sweepPayments(ctx)
		}
	}
}

func (s *Service) sweepPayments(ctx context.Context) {
	s.log.Info("starting payment sweep")
	start := time.Now()
	if err := s.payments.CheckPending(ctx); err != nil {
		s.log.Error("payment sweep failed", sl.Err(err))
		return
	}
	metrics.SweepDuration.WithLabelValues("payments").Observe(time.Since(start).Seconds())
}

// RunPostArchival запускает цикл архивирования публикаций старше
// порога хранения.
func (s *Service) RunPostArchival(ctx context.Context) {
	s.archivePosts(ctx)

	ticker := time.NewTicker(s.cfg.PostArchivalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("post archival stopped")
			return
		case <-ticker.C:
			s.archivePosts(ctx)
		}
	}
}

func (s *Service) archivePosts(ctx context.Context) {
	s.log.Info("starting post archival")
	start := time.Now()
	cutoff := time.Now().UTC().Add(-s.cfg.PostRetention)
	count, err := s.posts.ArchiveOldPosts(ctx, cutoff)
	if err != nil {
		s.log.Error("post archival failed", sl.Err(err))
		return
	}
	if count > 0 {
		metrics.PostsArchivedTotal.Add(float64(count))
		s.log.Info("archived posts", slog.Int("count", count))
	}
	metrics.SweepDuration.WithLabelValues("posts").Observe(time.Since(start).Seconds())
}
