// Package notification は通知サービスの内部実装を提供する。
//
// Event Storeをポーリングしてonboarding_session.attendedイベントを購読し、
// 参加した学生への通知を生成・保存する。同じイベントから通知が
// 二重に作られることはない。通知の一覧取得や既読管理も行う。
package notification
