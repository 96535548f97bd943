package security

import (
	"net/http"
	"strings"

	"PRealtime/tools/errs"
	"PRealtime/tools/security"

	"github.com/gin-gonic/gin"
)

// ClaimsKey gin.Context 里保存 *security.Claims 的 key
const ClaimsKey = "claims"

type Options struct {
	Verify security.Options
	// Scope 不为空时要求 token 带该 scope
	Scope string
}

func DefaultOptions(secret []byte) *Options {
	return &Options{Verify: security.DefaultOptions(secret)}
}

// Middleware Authorization: Bearer <jwt>。未配置密钥时直接放行。
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil || !opts.Verify.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			abort(c, http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail("missing bearer token"))
			return
		}
		claims, err := security.Verify(opts.Verify, token)
		if err != nil {
			ce, _ := errs.As(err)
			abort(c, http.StatusUnauthorized, ce)
			return
		}
		if opts.Scope != "" && !claims.HasScope(opts.Scope) {
			abort(c, http.StatusForbidden, errs.ErrTokenInvalid.WithDetail("missing scope "+opts.Scope))
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearer(authz string) string {
	authz = strings.TrimSpace(authz)
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

func abort(c *gin.Context, status int, e errs.CodeError) {
	c.AbortWithStatusJSON(status, e)
}
