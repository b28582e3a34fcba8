package telephony

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"voice-bridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const HeaderSignature = "X-Twilio-Signature"

// RequireSignature rejects webhook requests whose X-Twilio-Signature does not
// match. publicBaseURL is the origin the provider was given; the signed URL
// is rebuilt from it because TLS usually terminates in front of us.
//
// Must run after any body-size limit and before handlers read the form.
func RequireSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		sig := c.GetHeader(HeaderSignature)
		if sig == "" {
			log.Warn("webhook signature missing", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
				return
			}
			log.Warn("webhook form parse failed", "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}

		var params url.Values
		if c.Request.Method == http.MethodPost {
			params = c.Request.PostForm
		}
		full := base + c.Request.URL.RequestURI()
		if !ValidateSignature(authToken, full, params, sig) {
			log.Warn("webhook signature invalid", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
