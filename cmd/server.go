package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lavaqueue/cache"
	"lavaqueue/config"
	"lavaqueue/core/gateway"
	"lavaqueue/core/hub"
	"lavaqueue/core/node"
	"lavaqueue/core/player"
	"lavaqueue/db"
	"lavaqueue/logger"
	"lavaqueue/repository"
	"lavaqueue/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动队列服务",
	Long:  `连接 Redis 与 Lavalink 节点，接管事件并启动管理 API。与直接运行 lavaqueue 相同。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService()
	},
}

const envFile = ".env"

var emittedEvents = []player.EventType{
	player.EventTrackStart,
	player.EventTrackException,
	player.EventTrackStuck,
	player.EventQueueEnd,
	player.EventPlayerError,
	player.EventWebSocketClosed,
}

func runService() error {
	cfg := config.Load()
	initLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env 变更时热更新日志级别
	if _, err := os.Stat(envFile); err == nil {
		if err := config.WatchEnvFile(ctx, envFile, func(c *config.Config) {
			logger.SetLevel(logger.LogLevel(c.LogLevel))
			logger.Info("log level reloaded", logger.String("level", string(logger.Level())))
		}); err != nil {
			logger.Warn("failed to watch env file", logger.ErrorField(err))
		}
	}

	// 连接 Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		return err
	}
	defer cache.CloseRedis()
	logger.Info("connected to redis", logger.String("addr", cfg.RedisHost+":"+cfg.RedisPort))

	store := cache.NewQueueCache(cache.RedisClient)
	resolver := node.NewRestClient(cfg.NodeRestURL(), cfg.NodePassword, cfg.ResolveSource)

	eventHub := hub.New()
	go eventHub.Run()
	defer eventHub.Stop()

	var opts []player.ManagerOption
	var discord *gateway.Discord
	if cfg.DiscordToken != "" {
		d, err := gateway.NewDiscord(cfg.DiscordToken, cfg.BotUserID)
		if err != nil {
			return err
		}
		discord = d
		opts = append(opts, player.WithGateway(discord))
	} else {
		logger.Warn("DISCORD_TOKEN not set, voice channels must be joined by another process")
	}

	manager := player.NewManager(store, resolver, opts...)
	for _, t := range emittedEvents {
		manager.On(t, eventHub.Listener())
	}
	manager.On(player.EventPlayerError, func(ev player.Event) {
		logger.Error("player error", logger.Guild(ev.Player.GuildID()), logger.ErrorField(ev.Err))
	})

	var serverOpts []server.Option
	if cfg.HistoryEnabled() {
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.CloseGormDB()
		history := repository.NewGormHistoryRepository(gdb)
		manager.On(player.EventTrackStart, repository.HistoryListener(history, 5*time.Second))
		serverOpts = append(serverOpts, server.WithHistory(history))
	}

	userID := cfg.BotUserID
	if userID == "" && discord != nil {
		uid, err := discord.ResolveUserID()
		if err != nil {
			return err
		}
		userID = uid
	}
	if userID == "" {
		return errors.New("BOT_USER_ID is required when DISCORD_TOKEN is not set")
	}

	nodeClient := node.NewClient(node.Options{
		Identifier:    cfg.NodeName,
		Address:       cfg.NodeWebSocketURL(),
		Password:      cfg.NodePassword,
		UserID:        userID,
		ResumeTimeout: cfg.NodeResumeTimeout,
	}, manager.Dispatch)
	manager.AddNode(nodeClient)

	nodeDone := make(chan struct{})
	go func() {
		defer close(nodeDone)
		if err := nodeClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("node client stopped", logger.ErrorField(err))
		}
	}()

	if discord != nil {
		discord.Bind(manager)
		if err := discord.Open(); err != nil {
			return err
		}
		defer discord.Close()
	}

	err := server.New(cfg, manager, resolver, eventHub, serverOpts...).Start(ctx)
	stop()

	<-nodeDone
	nodeClient.Close()
	manager.Wait()
	logger.Info("lavaqueue stopped")
	return err
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
