// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// 各サービスが投入したイベント（ジョブ）を追記のみで永続化する。
// オンボーディングサービスはonboarding_session.attendedをここへ投入し、
// 通知サービスなどの購読側はポーリングでイベントを取得する。
//
// 主な機能:
//   - イベントの追記（Append）。AggregateごとにVersionを採番する
//   - 同じイベントIDの再追記は既存イベントを返す（冪等）
//   - AggregateID・イベントタイプ・日時によるイベント取得
package eventstore
