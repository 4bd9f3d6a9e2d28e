// Package onboarding はオンボーディングサービスの内部実装を提供する。
//
// オンボーディングセッションの記録が中心となる。1回の記録で次の処理を行う。
//   - セッション行の作成
//   - 参加者ごとの学生のonboarded_at更新（未設定の場合のみ）と参加者リンク行の作成
//   - コミット後、参加者ごとにonboarding_session.attendedイベントをEvent Storeへ投入
//
// DB書き込みは1トランザクションで行い、途中で失敗した場合はすべてロールバックする。
// イベント投入はトランザクションの外で行うベストエフォート（at-most-once）であり、
// 失敗はログに記録するのみで呼び出し元には返さない。
package onboarding
