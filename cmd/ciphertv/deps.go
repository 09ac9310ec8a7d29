package main

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/justchokingaround/ciphertv/internal/config"
	"github.com/justchokingaround/ciphertv/internal/database"
	"github.com/justchokingaround/ciphertv/internal/history"
	"github.com/justchokingaround/ciphertv/internal/httpclient"
	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/justchokingaround/ciphertv/internal/proxy"
	"github.com/justchokingaround/ciphertv/internal/sources"
)

func newRewriter(c *config.Config) *proxy.Rewriter {
	return proxy.New(c.Proxy.BaseURL,
		proxy.WithLocalPrefix(c.Proxy.LocalPrefix),
		proxy.WithTrustedOrigins(c.Proxy.TrustedOrigins...),
	)
}

func newHTTPClient(c *config.Config) *httpclient.Client {
	return httpclient.NewClient(httpclient.ClientConfig{
		Timeout: c.API.Timeout,
		Debug:   c.Advanced.Debug,
		Logger:  config.Component(logger, "http"),
	})
}

func newCatalog(c *config.Config) *sources.Consumet {
	return sources.NewConsumet(sources.ConsumetConfig{
		BaseURL:  c.API.BaseURL,
		Provider: c.API.Provider,
		Timeout:  c.API.Timeout,
		Debug:    c.Advanced.Debug,
		Logger:   config.Component(logger, "consumet"),
		HTTP:     newHTTPClient(c),
	})
}

func openHistory(c *config.Config) (*gorm.DB, *history.Service, error) {
	db, err := database.Open(&c.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return db, history.NewService(db, c.Playback.CompletedPercent), nil
}

const volumeSetting = "volume"

// restoreVolume applies the volume saved by the previous session
func restoreVolume(ctx context.Context, db *gorm.DB, media player.MediaOutput) {
	raw, err := database.GetSetting(db, volumeSetting)
	if err != nil || raw == "" {
		return
	}
	volume, err := strconv.ParseFloat(raw, 64)
	if err != nil || volume < 0 || volume > 1 {
		logger.Warn("ignoring stored volume", "value", raw)
		return
	}
	if err := media.SetVolume(ctx, volume); err != nil {
		logger.Warn("failed to restore volume", "error", err)
	}
}

func saveVolume(db *gorm.DB, volume float64) {
	volume = min(volume, 1)
	if err := database.SetSetting(db, volumeSetting, strconv.FormatFloat(volume, 'f', 2, 64)); err != nil {
		logger.Warn("failed to save volume", "error", err)
	}
}
