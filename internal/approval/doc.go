// Package approval は管理者アクセスの承認サービスの内部実装を提供する。
//
// 管理画面へのアクセス申請をuserApprovalRequestsコレクションに保存し、
// 管理者による承認・却下を記録する。申請は pending で作成され、
// approved か rejected のどちらかに一度だけ遷移する。
// gatewayはメールアドレスで申請状態を問い合わせてトークン発行の可否を決める。
package approval
