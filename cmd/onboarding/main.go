// オンボーディングサービスのエントリポイント。
// オンボーディングセッションの参加記録と学生のオンボーディング日時の更新を
// 1つのトランザクションで行い、コミット後に参加イベントをEvent Storeへ投入する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/onboarding/internal/onboarding"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server, err := onboarding.NewServer(port)
	if err != nil {
		log.Fatalf("オンボーディングサーバーの初期化に失敗: %v", err)
	}
	defer server.Close() //nolint:errcheck

	log.Printf("オンボーディングサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Printf("オンボーディングサービスの起動に失敗: %v", err)
		return
	}
}
