package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// Routes 带可选鉴权的路由注册
type Routes struct {
	R    gin.IRoutes
	Auth gin.HandlerFunc
}

func (rs Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && rs.Auth != nil {
		return []gin.HandlerFunc{rs.Auth, handler}
	}
	return []gin.HandlerFunc{handler}
}

func (rs Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.R.GET(path, rs.chain(handler, opt)...)
}

func (rs Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.R.POST(path, rs.chain(handler, opt)...)
}
