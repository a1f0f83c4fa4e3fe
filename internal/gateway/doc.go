// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 開発用のトークン発行（DEV_AUTH=trueの場合のみ）では、承認サービスに申請状態を
// 問い合わせ、承認済みの管理者にだけJWTを発行する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。認証済みリクエストを通知サービスと承認サービスに転送する。
// 通知のSSEストリームはバッファせずにそのまま中継する。
package gateway
