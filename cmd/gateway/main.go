// API Gatewayサービスのエントリポイント。
// 外部からアクセス可能な唯一のサービスとして、JWTの発行と検証を行い、
// 認証済みリクエストを内部サービスに転送する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/onboarding/internal/gateway"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := gateway.NewServer(port)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}
	defer server.Close() //nolint:errcheck

	log.Printf("Gatewayサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Printf("Gatewayサービスの起動に失敗: %v", err)
		return
	}
}
