// Package httpserver はHTTPサーバーの起動と終了処理を提供する。
package httpserver
