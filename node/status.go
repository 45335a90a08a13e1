package node

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andydunstall/glomers/admin"
)

// Status exposes the node state via the admin status API.
type Status struct {
	state *State
}

func NewStatus(state *State) *Status {
	return &Status{
		state: state,
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("", s.snapshotRoute)
	group.GET("/values", s.valuesRoute)
}

func (s *Status) snapshotRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Snapshot())
}

func (s *Status) valuesRoute(c *gin.Context) {
	values := s.state.Values()
	if values == nil {
		values = []uint64{}
	}
	c.JSON(http.StatusOK, values)
}

var _ admin.StatusHandler = &Status{}
