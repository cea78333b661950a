package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicAttributes tags the nrgin transaction with the request id and the
// authenticated admin, and reports handler errors. It must run after
// nrgin.Middleware.
func NewRelicAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		txn := nrgin.Transaction(c)
		if txn == nil {
			return
		}

		txn.AddAttribute("request_id", GetRequestID(c))
		if userID := c.GetString(ContextUserID); userID != "" {
			txn.AddAttribute("admin_id", userID)
		}
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
