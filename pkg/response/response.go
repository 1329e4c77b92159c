package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookResponse webhook 应答体
// 网关只认 HTTP 状态码：非 2xx 会触发重试风暴，所以处理结果
// 一律放在 body 里，HTTP 层永远 200
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Received 收到但未处理（非支付事件、找不到 txid 等）
func Received(c *gin.Context, message string) {
	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		Processed: false,
		Message:   message,
	})
}

// Processed 收到且完成入账
func Processed(c *gin.Context, message string) {
	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		Processed: true,
		Message:   message,
	})
}

// Failed 收到但处理失败——注意仍然是 200，错误只进 body
func Failed(c *gin.Context, errMsg string) {
	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		Processed: false,
		Error:     errMsg,
	})
}
