package cmd

import (
	"context"
	"fmt"
	"time"

	"lavaqueue/cache"
	"lavaqueue/config"
	"lavaqueue/storage"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup [guildId...]",
	Short: "备份会话到 MinIO",
	Long:  `把 Redis 中的会话快照上传到 MinIO 的 sessions/ 目录。不指定 guildId 时备份全部会话。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(func(ctx context.Context, store *cache.QueueCache, objects *storage.MinioStore) error {
			n, err := storage.BackupSessions(ctx, store, objects, args...)
			if err != nil {
				return err
			}
			fmt.Printf("已备份 %d 个会话到 %s/%s\n", n, objects.Bucket(), storage.BackupPrefix)
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [guildId...]",
	Short: "从 MinIO 恢复会话",
	Long:  `用 MinIO 中的快照覆盖 Redis 中的会话记录。运行中的服务不会重新加载已持有的会话。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(func(ctx context.Context, store *cache.QueueCache, objects *storage.MinioStore) error {
			n, err := storage.RestoreSessions(ctx, store, objects, args...)
			if err != nil {
				return err
			}
			fmt.Printf("已恢复 %d 个会话\n", n)
			return nil
		})
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "列出 MinIO 中的会话快照",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		objects, err := storage.InitMinio(ctx, cfg)
		if err != nil {
			return err
		}
		list, err := objects.List(ctx, storage.BackupPrefix)
		if err != nil {
			return err
		}
		var total int64
		for _, o := range list {
			total += o.Size
			fmt.Printf("%-40s %10s  %s\n", o.Key, storage.FormatSize(o.Size), o.LastModified.Format(time.RFC3339))
		}
		fmt.Printf("共 %d 个快照，%s\n", len(list), storage.FormatSize(total))
		return nil
	},
}

func withBackup(fn func(ctx context.Context, store *cache.QueueCache, objects *storage.MinioStore) error) error {
	cfg := config.Load()
	if err := cache.ConnectRedis(cfg); err != nil {
		return err
	}
	defer cache.CloseRedis()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	objects, err := storage.InitMinio(ctx, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, cache.NewQueueCache(cache.RedisClient), objects)
}

func init() {
	rootCmd.AddCommand(backupCmd, restoreCmd, backupsCmd)
}
