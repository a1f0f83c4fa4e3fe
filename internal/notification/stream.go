package notification

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// heartbeatInterval はSSE接続を維持するためのコメント送信間隔。
const heartbeatInterval = 25 * time.Second

// snapshotEvent はSSEで送るイベント名。
const snapshotEvent = "snapshot"

// handleStream は最新の通知一覧をServer-Sent Eventsで配信するハンドラ。
// 変更のたびに一覧全体を1つのsnapshotイベントとして送る。
// クライアントは受け取った一覧で表示中の一覧を置き換える。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryLimit(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		// 未送信の一覧は新しい一覧で置き換える
		updates := make(chan []Notification, 1)
		sub, err := s.service.Subscribe(ctx, func(list []Notification) {
			select {
			case <-updates:
			default:
			}
			updates <- list
		}, limit)
		if err != nil {
			writeError(c, err, "通知の購読に失敗しました")
			return
		}
		defer sub.Close()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		s.logger.Debug("通知ストリームを開始", zap.Int("limit", limit))
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case list := <-updates:
				c.SSEvent(snapshotEvent, list)
				return true
			case <-heartbeat.C:
				_, err := io.WriteString(w, ": ping\n\n")
				return err == nil
			}
		})
		s.logger.Debug("通知ストリームを終了")
	}
}
