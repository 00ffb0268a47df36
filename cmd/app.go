package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/config"
	"github.com/example/laundry-bot/internal/db"
	"github.com/example/laundry-bot/internal/forms"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/migrate"
	"github.com/example/laundry-bot/internal/notify"
	"github.com/example/laundry-bot/internal/telegram"
)

// app is the wiring shared by every long-running subcommand.
type app struct {
	cfg      config.Config
	db       *db.DB
	store    *booking.Store
	notifier *notify.Notifier
	loc      *locale.Bundle
	client   *telegram.Client
	admin    *telegram.Client // nil without ADMIN_BOT_TOKEN
}

func newApp(ctx context.Context, migrateUp bool) (*app, func(), error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}

	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { d.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if err := d.Ping(ctx); err != nil {
		return fail(fmt.Errorf("db ping: %w", err))
	}
	if migrateUp {
		if err := migrate.Up(ctx, d); err != nil {
			return fail(err)
		}
	}

	n := notify.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	closers = append(closers, func() { _ = n.Close() })
	if err := n.Ping(ctx); err != nil {
		return fail(fmt.Errorf("redis ping: %w", err))
	}

	loc, err := locale.Load()
	if err != nil {
		return fail(err)
	}

	client, err := telegram.New(cfg.BotToken)
	if err != nil {
		return fail(err)
	}
	var admin *telegram.Client
	if cfg.AdminBotToken != "" {
		if admin, err = telegram.New(cfg.AdminBotToken); err != nil {
			return fail(err)
		}
	}

	return &app{
		cfg:      cfg,
		db:       d,
		store:    booking.NewStore(d),
		notifier: n,
		loc:      loc,
		client:   client,
		admin:    admin,
	}, cleanup, nil
}

func (a *app) formDeps() forms.Deps {
	return forms.Deps{
		Store:     a.store,
		Transport: a.client,
		Locale:    a.loc,
		Booking:   a.cfg.Booking,
		Now:       time.Now,
	}
}
