package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"freight-chat/internal/repository"
	"freight-chat/pkg/jwt"
	"freight-chat/pkg/logger"
	"freight-chat/pkg/response"
	"freight-chat/pkg/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// defaultListLimit 未指定 limit 时的分页大小
const defaultListLimit = 100

// ItemsHandler 通用集合接口 /items/:collection
// 读取对所有已登录用户开放，写入经 accessPolicy 校验归属
type ItemsHandler struct {
	store  store.Store
	access accessPolicy
}

func NewItemsHandler(st store.Store) *ItemsHandler {
	return &ItemsHandler{store: st, access: accessPolicy{store: st}}
}

// Register 注册集合路由
func (h *ItemsHandler) Register(r gin.IRouter) {
	r.GET("/items/:collection", h.List)
	r.POST("/items/:collection", h.Create)
	r.GET("/items/:collection/:id", h.Get)
	r.PATCH("/items/:collection/:id", h.Update)
	r.DELETE("/items/:collection/:id", h.Delete)
}

// List 按 filter/fields/sort/limit/offset 查询
func (h *ItemsHandler) List(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	recs, err := h.store.List(c.Request.Context(), c.Param("collection"), q)
	if err != nil {
		h.fail(c, "查询集合失败", err)
		return
	}
	response.Success(c, recs)
}

// Get 获取单条记录
func (h *ItemsHandler) Get(c *gin.Context) {
	rec, err := h.store.Get(c.Request.Context(), c.Param("collection"), parseID(c.Param("id")), splitList(c.Query("fields"))...)
	if err != nil {
		h.fail(c, "获取记录失败", err)
		return
	}
	response.Success(c, rec)
}

// Create 创建记录
func (h *ItemsHandler) Create(c *gin.Context) {
	var rec store.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	op := writeOp{userID: jwt.GetUserID(c), collection: c.Param("collection"), current: rec, create: true}
	if err := h.access.authorize(c.Request.Context(), op); err != nil {
		h.fail(c, "创建记录失败", err)
		return
	}
	created, err := h.store.Create(c.Request.Context(), c.Param("collection"), rec)
	if err != nil {
		h.fail(c, "创建记录失败", err)
		return
	}
	response.Created(c, created)
}

// Update 局部更新记录
func (h *ItemsHandler) Update(c *gin.Context) {
	var patch store.Record
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !h.authorizeExisting(c, patch, false) {
		return
	}
	updated, err := h.store.Update(c.Request.Context(), c.Param("collection"), parseID(c.Param("id")), patch)
	if err != nil {
		h.fail(c, "更新记录失败", err)
		return
	}
	response.Success(c, updated)
}

// Delete 删除记录
func (h *ItemsHandler) Delete(c *gin.Context) {
	if !h.authorizeExisting(c, nil, true) {
		return
	}
	if err := h.store.Delete(c.Request.Context(), c.Param("collection"), parseID(c.Param("id"))); err != nil {
		h.fail(c, "删除记录失败", err)
		return
	}
	response.NoContent(c)
}

// authorizeExisting 读取原记录并校验调用者能否修改或删除
func (h *ItemsHandler) authorizeExisting(c *gin.Context, patch store.Record, del bool) bool {
	ctx := c.Request.Context()
	current, err := h.store.Get(ctx, c.Param("collection"), parseID(c.Param("id")))
	if err == nil {
		err = h.access.authorize(ctx, writeOp{
			userID:     jwt.GetUserID(c),
			collection: c.Param("collection"),
			current:    current,
			patch:      patch,
			delete:     del,
		})
	}
	if err != nil {
		h.fail(c, "校验记录归属失败", err)
		return false
	}
	return true
}

func (h *ItemsHandler) fail(c *gin.Context, msg string, err error) {
	status := statusOf(err)
	if status != http.StatusInternalServerError {
		response.Error(c, status, err.Error())
		return
	}
	logger.Error(msg,
		zap.String("collection", c.Param("collection")),
		zap.String("method", c.Request.Method),
		zap.Error(err),
	)
	response.InternalError(c, msg, err)
}

func parseQuery(c *gin.Context) (store.Query, error) {
	q := store.Query{Limit: defaultListLimit}
	if raw := c.Query("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.Filter); err != nil {
			return q, err
		}
	}
	q.Fields = splitList(c.Query("fields"))
	q.Sort = splitList(c.Query("sort"))

	var err error
	if v := c.Query("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < -1 {
			return q, errors.New("invalid limit")
		}
		if q.Limit == 0 {
			q.Limit = defaultListLimit
		}
	}
	if v := c.Query("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil || q.Offset < 0 {
			return q, errors.New("invalid offset")
		}
	}
	return q, nil
}

// parseID 数字ID按整数查询，其余（用户ID、文件ID）按字符串
func parseID(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidQuery), errors.Is(err, repository.ErrUnknownField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
