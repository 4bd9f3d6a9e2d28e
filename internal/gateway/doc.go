// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、JWTの発行と検証、
// 内部サービス（オンボーディング、通知、Event Store）へのリクエスト転送を担当する。
package gateway
