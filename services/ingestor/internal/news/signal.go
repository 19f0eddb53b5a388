package news

import (
	"context"
	"fmt"
	"time"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"
	"github.com/sirupsen/logrus"
)

// ComputeSignal averages sentiment over the lookback window. Halt is set when
// at least one event exists and the mean is at or below the threshold.
func (s *Service) ComputeSignal(ctx context.Context) (models.SentimentSignal, error) {
	settings := s.settings.News(ctx)
	now := s.now().UTC()

	scores, err := s.store.SentimentSince(ctx, now.Add(-time.Duration(settings.LookbackHours)*time.Hour))
	if err != nil {
		return models.SentimentSignal{}, fmt.Errorf("failed to load sentiment: %w", err)
	}

	mean := utils.Mean(scores)
	return models.SentimentSignal{
		Mean:          utils.NormalizeTo(mean, 4),
		Count:         len(scores),
		Threshold:     settings.HaltThreshold,
		LookbackHours: settings.LookbackHours,
		Halt:          len(scores) > 0 && mean <= settings.HaltThreshold,
		ComputedAt:    now,
	}, nil
}

// PublishSignal computes the signal, logs it and hands it to the publisher.
// The signal is advisory; nothing in this service acts on it.
func (s *Service) PublishSignal(ctx context.Context) (models.SentimentSignal, error) {
	signal, err := s.ComputeSignal(ctx)
	if err != nil {
		return signal, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"mean":           signal.Mean,
		"count":          signal.Count,
		"threshold":      signal.Threshold,
		"lookback_hours": signal.LookbackHours,
	})
	if signal.Halt {
		log.Warn("Negative news sentiment, advising trading halt")
	} else {
		log.Info("News sentiment within bounds")
	}

	if s.publisher != nil {
		if err := s.publisher.PublishSignal(ctx, signal); err != nil {
			return signal, fmt.Errorf("failed to publish signal: %w", err)
		}
	}
	return signal, nil
}
