// Package notification は通知サービスの内部実装を提供する。
//
// 注文や新規ユーザー登録などのイベントから管理者向けの通知を生成し、
// ドキュメントストアのnotificationsコレクションに保存する。
// 一覧取得、既読管理、未読件数の取得に加え、最新の通知一覧を
// Server-Sent Eventsでライブ配信する。
package notification
