package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"lavaqueue/cache"
	"lavaqueue/config"
	"lavaqueue/core/auth"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <guildId>",
	Short: "查看持久化的会话",
	Long:  `从 Redis 读取某个 guild 的播放器元数据、当前/上一首曲目以及待播列表，并以 JSON 输出。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *cache.QueueCache) error {
			snapshot, err := store.LoadSession(ctx, args[0])
			if err != nil {
				return err
			}
			if snapshot == nil {
				return fmt.Errorf("no session stored for guild %s", args[0])
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snapshot)
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <guildId>",
	Short: "删除持久化的会话",
	Long:  `删除某个 guild 在 Redis 中的会话元数据与待播列表。运行中的服务若仍持有该会话，不受影响。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *cache.QueueCache) error {
			if err := store.ClearTracks(ctx, args[0]); err != nil {
				return err
			}
			if err := store.DeleteSession(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("会话 %s 已删除\n", args[0])
			return nil
		})
	},
}

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发管理 API 令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		token, err := auth.NewSigner(cfg.JWTSecret, cfg.JWTTTL).GenerateToken(tokenSubject)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "生成 ADMIN_PASSWORD_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashAdminPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func withStore(fn func(ctx context.Context, store *cache.QueueCache) error) error {
	cfg := config.Load()
	if err := cache.ConnectRedis(cfg); err != nil {
		return err
	}
	defer cache.CloseRedis()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, cache.NewQueueCache(cache.RedisClient))
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	rootCmd.AddCommand(inspectCmd, clearCmd, tokenCmd, hashPasswordCmd)
}
