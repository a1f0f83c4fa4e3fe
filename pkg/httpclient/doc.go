// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 承認サービスから通知サービスへのユーザー登録通知、gatewayから承認サービスへの
// 承認状態の問い合わせなど、サービス間の通信パターンを統一する。
package httpclient
