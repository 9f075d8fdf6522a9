package handler

import (
	"os"
	"path/filepath"
	"time"

	"freight-chat/internal/model"
	"freight-chat/pkg/jwt"
	"freight-chat/pkg/logger"
	"freight-chat/pkg/response"
	"freight-chat/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FilesHandler 附件上传 POST /files
// 文件落盘到 uploadDir，元数据写入 files 集合；Storage 只记录相对文件名
type FilesHandler struct {
	store     store.Store
	uploadDir string
}

func NewFilesHandler(st store.Store, uploadDir string) *FilesHandler {
	return &FilesHandler{store: st, uploadDir: uploadDir}
}

// Upload 接收 multipart 表单中的 file 字段
func (h *FilesHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "缺少上传文件")
		return
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		response.InternalError(c, "创建上传目录失败", err)
		return
	}

	id := uuid.NewString()
	name := id + filepath.Ext(fh.Filename)
	path := filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(fh, path); err != nil {
		logger.Error("保存上传文件失败", zap.String("file", fh.Filename), zap.Error(err))
		response.InternalError(c, "保存文件失败", err)
		return
	}

	rec, err := store.Encode(model.File{
		ID:               id,
		FilenameDownload: filepath.Base(fh.Filename),
		Type:             fh.Header.Get("Content-Type"),
		Filesize:         fh.Size,
		Storage:          name,
		UploadedBy:       jwt.GetUserID(c),
		UploadedOn:       time.Now().UTC(),
	})
	if err == nil {
		rec, err = h.store.Create(c.Request.Context(), model.CollectionFiles, rec)
	}
	if err != nil {
		_ = os.Remove(path)
		logger.Error("写入文件记录失败", zap.String("file_id", id), zap.Error(err))
		response.InternalError(c, "保存文件失败", err)
		return
	}

	logger.Info("文件已上传",
		zap.String("file_id", id),
		zap.String("name", fh.Filename),
		zap.Int64("size", fh.Size),
	)
	response.Created(c, rec)
}
