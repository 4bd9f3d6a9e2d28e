// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証と権限チェック、パニックリカバリ、CORS設定など、
// オンボーディング・Event Store・通知の各サービスで共通して使用する。
package middleware
