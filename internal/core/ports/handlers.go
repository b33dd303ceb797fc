package ports

import (
	"github.com/gin-gonic/gin"
)

type GroupHTTPHandler interface {
	CreateGroup(c *gin.Context)
	GetGroup(c *gin.Context)
	ListGroups(c *gin.Context)
	DisbandGroup(c *gin.Context)
	AddMember(c *gin.Context)
	RemoveMember(c *gin.Context)
	ReissuePair(c *gin.Context)
	ListSessions(c *gin.Context)
}
