// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// オンボーディングサービスからEvent Storeへのジョブ（イベント）投入や、
// 通知サービスによるEvent Storeのポーリングで使用する。
// 2xx以外の応答は *StatusError として返す。
package httpclient
