package api

import (
	"context"
	"net/http"
	"time"

	"PRealtime/global"
	mid "PRealtime/middleware"
	"PRealtime/service/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Presence 是 presence.Registry 的只读部分
type Presence interface {
	Snapshot() map[string]string
	ConnectionOf(userID string) (string, bool)
	Len() int
}

// Connections 是 chat.Hub 的只读部分
type Connections interface {
	Count() int
	NodeID() string
}

// ClusterLookup 集群在线镜像（可选）
type ClusterLookup interface {
	Lookup(ctx context.Context, userID string) (storage.Location, bool, error)
}

type API struct {
	presence Presence
	conns    Connections
	cluster  ClusterLookup
	log      *zap.Logger
}

func New(p Presence, c Connections, cluster ClusterLookup, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{presence: p, conns: c, cluster: cluster, log: log.Named("api")}
}

// Mount GET /healthz、/api/presence、/api/presence/:userId
func (a *API) Mount(rs mid.Routes) {
	rs.GET("/healthz", a.Health, mid.RouteOpt{})
	rs.GET("/api/presence", a.Snapshot, mid.RouteOpt{IsAuth: true})
	rs.GET("/api/presence/:userId", a.PresenceOf, mid.RouteOpt{IsAuth: true})
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"node":        a.conns.NodeID(),
		"online":      a.presence.Len(),
		"connections": a.conns.Count(),
	})
}

func (a *API) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, global.Success(gin.H{
		"node":  a.conns.NodeID(),
		"users": a.presence.Snapshot(),
	}))
}

type presenceView struct {
	UserID       string `json:"userId"`
	IsOnline     bool   `json:"isOnline"`
	ConnectionID string `json:"connectionId,omitempty"`
	Node         string `json:"node,omitempty"`
}

// PresenceOf 先查本节点，再查集群镜像
func (a *API) PresenceOf(c *gin.Context) {
	userID := c.Param("userId")
	v := presenceView{UserID: userID}
	if conn, ok := a.presence.ConnectionOf(userID); ok {
		v.IsOnline, v.ConnectionID, v.Node = true, conn, a.conns.NodeID()
		c.JSON(http.StatusOK, global.Success(v))
		return
	}
	if a.cluster != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		loc, ok, err := a.cluster.Lookup(ctx, userID)
		cancel()
		if err != nil {
			a.log.Warn("cluster presence lookup failed", zap.String("userId", userID), zap.Error(err))
		} else if ok {
			v.IsOnline, v.ConnectionID, v.Node = true, loc.ConnID, loc.NodeID
		}
	}
	c.JSON(http.StatusOK, global.Success(v))
}
