// イベントストアサービスのエントリポイント。
// 各サービスが発行したイベントを追記専用のログとして永続化し、配信する。
// 購読側はこのログをポーリングしてジョブを処理する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/onboarding/internal/eventstore"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8084"
	}

	server, err := eventstore.NewServer(port)
	if err != nil {
		log.Fatalf("イベントストアサーバーの初期化に失敗: %v", err)
	}
	defer server.Close() //nolint:errcheck

	log.Printf("イベントストアサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Printf("イベントストアサービスの起動に失敗: %v", err)
		return
	}
}
