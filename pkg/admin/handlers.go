package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/pkg/cache"
	dberrors "github.com/tokmz/databind/pkg/errors"
)

// stateView State 的 JSON 视图，带出错误文本
type stateView struct {
	ID          string    `json:"id"`
	Data        any       `json:"data"`
	Loading     bool      `json:"loading"`
	Error       string    `json:"error,omitempty"`
	IsStale     bool      `json:"isStale"`
	LastFetched time.Time `json:"lastFetched"`
}

func viewOf(st *databind.State) stateView {
	return stateView{
		ID:          st.ID,
		Data:        st.Data,
		Loading:     st.Loading,
		Error:       st.ErrorMessage(),
		IsStale:     st.IsStale,
		LastFetched: st.LastFetched,
	}
}

// fetchRequest POST /datasources/:id/fetch 请求体，可为空
type fetchRequest struct {
	Policy databind.FetchPolicy `json:"policy"`
	Params cache.Params         `json:"params"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) cacheStats(c *gin.Context) {
	ok(c, s.manager.CacheStats())
}

func (s *Server) clearCache(c *gin.Context) {
	s.manager.ClearCache()
	ok(c, nil)
}

func (s *Server) invalidateAll(c *gin.Context) {
	s.manager.InvalidateAll()
	ok(c, s.manager.IDs())
}

func (s *Server) listDatasources(c *gin.Context) {
	ids := s.manager.IDs()
	views := make([]stateView, 0, len(ids))
	for _, id := range ids {
		if st, found := s.manager.State(id); found {
			views = append(views, viewOf(st))
		}
	}
	ok(c, views)
}

func (s *Server) getDatasource(c *gin.Context) {
	st, found := s.state(c)
	if !found {
		return
	}
	ok(c, viewOf(st))
}

func (s *Server) fetch(c *gin.Context) {
	id := c.Param("id")
	var cfg *databind.Config
	if s.lookup != nil {
		cfg, _ = s.lookup(id)
	}
	if cfg == nil {
		fail(c, http.StatusNotFound, dberrors.ErrConfig.WithDatasource(id).WithMessage("unknown datasource"))
		return
	}

	var req fetchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, dberrors.ErrConfig.WithDatasource(id).WithMessage("invalid request body").WithError(err))
			return
		}
	}

	var opts []databind.FetchOption
	if req.Policy != "" {
		opts = append(opts, databind.WithPolicy(req.Policy))
	}
	if len(req.Params) > 0 {
		opts = append(opts, databind.WithParams(req.Params))
	}

	cp := *cfg
	res, err := s.manager.Fetch(c.Request.Context(), &cp, opts...)
	if err != nil {
		fail(c, statusOf(err), err)
		return
	}
	ok(c, res)
}

func (s *Server) refetch(c *gin.Context) {
	if _, found := s.state(c); !found {
		return
	}
	res, err := s.manager.Refetch(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, statusOf(err), err)
		return
	}
	ok(c, res)
}

func (s *Server) invalidate(c *gin.Context) {
	if _, found := s.state(c); !found {
		return
	}
	if err := s.manager.Invalidate(c.Param("id")); err != nil {
		fail(c, statusOf(err), err)
		return
	}
	ok(c, nil)
}

// state 查找状态，不存在时写入 404
func (s *Server) state(c *gin.Context) (*databind.State, bool) {
	id := c.Param("id")
	st, found := s.manager.State(id)
	if !found {
		fail(c, http.StatusNotFound, dberrors.ErrConfig.WithDatasource(id).WithMessage("no state for datasource"))
	}
	return st, found
}
