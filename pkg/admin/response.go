package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/logger"
)

// Response 统一响应结构
type Response struct {
	Code         int    `json:"code"`                    // 成功为 200，失败为错误码
	Data         any    `json:"data"`                    // 响应数据
	Message      string `json:"message"`                 // 响应消息
	Kind         string `json:"kind,omitempty"`          // 错误类别
	DatasourceID string `json:"datasource_id,omitempty"` // 出错的数据源
	TraceID      string `json:"trace_id,omitempty"`
}

// Success 创建成功响应
func Success(data any) *Response {
	return &Response{Code: http.StatusOK, Data: data, Message: "success"}
}

// Fail 由错误创建失败响应
func Fail(err error) *Response {
	e := dberrors.Wrap(err, "")
	return &Response{
		Code:         e.Code,
		Message:      e.Error(),
		Kind:         string(e.Kind),
		DatasourceID: e.DatasourceID,
	}
}

// statusOf 错误类别对应的 HTTP 状态码
func statusOf(err error) int {
	switch dberrors.KindOf(err) {
	case dberrors.KindConfig:
		return http.StatusBadRequest
	case dberrors.KindHandlerNotFound:
		return http.StatusNotImplemented
	case dberrors.KindNetwork:
		return http.StatusBadGateway
	case dberrors.KindTransform:
		return http.StatusUnprocessableEntity
	case dberrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func ok(c *gin.Context, data any) {
	resp := Success(data)
	resp.TraceID = logger.TraceIDFrom(c.Request.Context())
	c.JSON(http.StatusOK, resp)
}

func fail(c *gin.Context, status int, err error) {
	resp := Fail(err)
	resp.TraceID = logger.TraceIDFrom(c.Request.Context())
	c.AbortWithStatusJSON(status, resp)
}
