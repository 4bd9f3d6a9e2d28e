// 通知サービスのエントリポイント。
// Event Storeのonboarding_session.attendedイベントを購読し、
// オンボーディングセッションに参加した学生への通知を生成・保存する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/onboarding/internal/notification"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	server, err := notification.NewServer(port)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}
	defer server.Close() //nolint:errcheck

	log.Printf("通知サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Printf("通知サービスの起動に失敗: %v", err)
		return
	}
}
