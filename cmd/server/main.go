package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quartermoon/sea-battle/internal/config"
	"github.com/quartermoon/sea-battle/internal/logger"
	"github.com/quartermoon/sea-battle/internal/network/server"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("加载配置文件失败，使用默认配置: %v", err)
		cfg = config.Default()
	}

	// 初始化文件日志
	if err := logger.Init(); err != nil {
		log.Printf("初始化日志失败: %v", err)
	}

	// 创建服务器
	srv := server.NewServer(cfg)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("正在关闭服务器...")
		srv.GracefulShutdown(2 * time.Minute)
		os.Exit(0)
	}()

	// 启动服务器
	log.Println("🚢 海战服务器启动中...")
	if err := srv.Start(); err != nil {
		log.Fatalf("服务器启动失败: %v", err)
	}
}
