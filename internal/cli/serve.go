package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/hitobot/internal/bot"
	"github.com/rahul/hitobot/internal/gateway"
	"github.com/rahul/hitobot/internal/ingest"
	"github.com/rahul/hitobot/internal/notify"
	"github.com/rahul/hitobot/internal/observability"
	"github.com/rahul/hitobot/pkg/config"
)

const heartbeatInterval = 30 * time.Second

func buildServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat bot and the daily notification scheduler",
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt)
		}),
	}
	cmd.Flags().String("telegram-token", "", "Telegram bot token")
	cmd.Flags().String("metrics-addr", "", "address for the Prometheus endpoint, e.g. :9102")
	_ = opts.v.BindPFlag(config.KeyTelegramToken, cmd.Flags().Lookup("telegram-token"))
	_ = opts.v.BindPFlag(config.KeyMetricsAddr, cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

// channels are the delivery gateways a sweep fans out to.
type channels struct {
	senders   map[string]notify.Sender
	messagers []gateway.Messenger
	discord   []string
}

// openChannels connects every enabled gateway. handler answers Telegram
// commands; nil connects Telegram for delivery only.
func openChannels(rt *runtime, handler gateway.Handler) (*gateway.TelegramGateway, *channels, error) {
	ch := &channels{senders: make(map[string]notify.Sender)}

	var tg *gateway.TelegramGateway
	if tgCfg, ok := rt.cfg.GetTelegramConfig(); ok {
		var err error
		tg, err = gateway.NewTelegramGateway(tgCfg.Token, handler, rt.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram gateway: %w", err)
		}
		ch.senders[tg.Name()] = tg
		ch.messagers = append(ch.messagers, tg)
	}
	if dcCfg, ok := rt.cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, rt.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("discord gateway: %w", err)
		}
		ch.senders[dc.Name()] = dc
		ch.messagers = append(ch.messagers, dc)
		ch.discord = dcCfg.Channels
	}
	return tg, ch, nil
}

func newScheduler(rt *runtime, ch *channels) (*notify.Scheduler, error) {
	policy, err := notify.ParsePolicy(rt.cfg.Notifications.Renotify)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(ch.senders,
		notify.Directory{Users: rt.store, DiscordChannels: ch.discord},
		notify.WithPolicy(policy, rt.store),
		notify.WithConcurrency(rt.cfg.Notifications.Concurrency),
		notify.WithDispatchLogger(rt.logger),
		notify.WithDeliveryObserver(rt.metrics),
	)
	return notify.NewScheduler(notify.NewSweeper(rt.catalog, rt.store), dispatcher, rt.store, rt.loc,
		notify.WithSchedulerClock(rt.now),
		notify.WithSchedulerLogger(rt.logger),
		notify.WithRunObserver(rt.metrics),
	), nil
}

func serve(ctx context.Context, rt *runtime) error {
	observability.PrintBanner(os.Stdout)

	if _, ok := rt.cfg.GetTelegramConfig(); !ok {
		return errors.New("telegram gateway is not enabled or token is missing")
	}

	// The bot needs the scheduler for /revisar and the gateway for replies,
	// so it is connected after both exist.
	b := bot.New(bot.Deps{
		Engine:   rt.engine,
		Requests: rt.store,
		Users:    rt.store,
		Settings: rt.store,
		Loader:   ingest.NewLoader(rt.catalog, rt.store, rt.loc, rt.logger),
		Workbook: rt.cfg.Ingest.Workbook,
		Sheet:    rt.cfg.Ingest.Sheet,
	}, bot.WithLogger(rt.logger), bot.WithCommandObserver(rt.metrics))

	tg, ch, err := openChannels(rt, b)
	if err != nil {
		return err
	}
	sched, err := newScheduler(rt, ch)
	if err != nil {
		return err
	}
	b.Sweeps = sched
	b.Connect(tg, tg)

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range ch.messagers {
		m := m
		g.Go(func() error {
			if err := m.Start(ctx); err != nil {
				return fmt.Errorf("%s gateway: %w", m.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		sched.Start(ctx)
		return nil
	})
	if addr := rt.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return rt.metrics.Serve(ctx, addr, rt.logger) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				observability.Heartbeat()
				rt.logger.Debug("Heartbeat",
					observability.Event(observability.EventTypeHeartbeat),
					zap.Duration("uptime", observability.Uptime()),
				)
			}
		}
	})

	rt.logger.Info("hitobot started",
		zap.String("timezone", rt.loc.String()),
		zap.Int("gateways", len(ch.messagers)),
		zap.String("renotify", rt.cfg.Notifications.Renotify),
	)

	err = g.Wait()
	for _, m := range ch.messagers {
		if serr := m.Stop(); serr != nil {
			rt.logger.Warn("Gateway stop failed", zap.String("gateway", m.Name()), zap.Error(serr))
		}
	}
	rt.logger.Info("hitobot stopped")
	return err
}
