package cmd

import (
	"context"
	"fmt"
	"time"

	"lavaqueue/cache"
	"lavaqueue/config"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接与读写，并统计当前持久化的会话数量。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		fmt.Printf("Redis: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			return err
		}
		defer cache.CloseRedis()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.TestRedis(ctx); err != nil {
			return err
		}
		fmt.Println("Redis读写正常")

		ids, err := cache.NewQueueCache(cache.RedisClient).ListSessionIDs(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("持久化会话: %d\n", len(ids))
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
