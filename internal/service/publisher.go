package service

import (
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service/publisher"
)

// NewPublishManager builds the publisher registry from configuration and
// registers a webhook publisher for every enabled platform
func NewPublishManager(cfg *config.PublishersConfig, policy config.DispatchPolicy, logger *zap.Logger) *publisher.Manager {
	manager := publisher.NewPublishManager(logger,
		publisher.WithTimeout(policy.PublishTimeout),
		publisher.WithConcurrency(policy.PlatformConcurrency))

	platforms := []struct {
		platform models.Platform
		cfg      config.PublisherConfig
	}{
		{models.PlatformTikTok, cfg.TikTok},
		{models.PlatformInstagram, cfg.Instagram},
		{models.PlatformYouTube, cfg.YouTube},
		{models.PlatformTwitter, cfg.Twitter},
		{models.PlatformFacebook, cfg.Facebook},
	}

	for _, p := range platforms {
		if !p.cfg.Enabled {
			continue
		}
		if p.cfg.Endpoint == "" {
			logger.Warn("Publisher enabled without endpoint, skipping", zap.String("platform", string(p.platform)))
			continue
		}
		pub := publisher.NewWebhookPublisher(p.platform, p.cfg.Endpoint, p.cfg.Token, logger)
		if err := manager.RegisterPublisher(pub); err != nil {
			logger.Error("Failed to register publisher", zap.String("platform", string(p.platform)), zap.Error(err))
		}
	}

	if len(manager.GetAvailablePlatforms()) == 0 {
		logger.Warn("No publishers registered; due jobs will fail permanently")
	}

	return manager
}
