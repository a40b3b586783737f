package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/signing"
	"github.com/w3bsuki/strike-shop-trust/pkg/metrics"
)

// VerifySignature authenticates service-to-service requests. Verification
// is fail closed: a request that cannot be verified is never trusted.
func VerifySignature(verifier *signing.Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":  signing.CodeInvalidSignature,
					"error": "unreadable request body",
				})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		verifyErr := verifier.Verify(
			c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.URL.Query(),
			body,
			c.Request.Header,
		)
		if verifyErr != nil {
			metrics.SignatureFailuresTotal.WithLabelValues(verifyErr.Code).Inc()
			log.Warn("signed request rejected",
				zap.String("code", verifyErr.Code),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  verifyErr.Code,
				"error": verifyErr.Message,
			})
			return
		}

		c.Next()
	}
}
