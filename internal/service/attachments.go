package service

import (
	"context"
	"fmt"
	"io"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"
)

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// UploadAttachment 上传文件并把返回的文件ID关联到消息
func (s *ChatService) UploadAttachment(ctx context.Context, messageID int64, name, contentType string, r io.Reader) (*model.Attachment, error) {
	if s.uploader == nil {
		return nil, ErrNoUploader
	}
	body := &countingReader{r: r}
	fileID, err := s.uploader.Upload(ctx, name, contentType, body)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	rec, err := s.store.Create(ctx, model.CollectionAttachments, store.Record{
		"message_id":   messageID,
		"file_id":      fileID,
		"file_name":    name,
		"mime_type":    contentType,
		"file_size":    body.n,
		"date_created": s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	var a model.Attachment
	if err := store.Decode(rec, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttachments 消息的附件
func (s *ChatService) ListAttachments(ctx context.Context, messageID int64) ([]model.Attachment, error) {
	recs, err := s.store.List(ctx, model.CollectionAttachments, store.Query{
		Filter: store.Eq("message_id", messageID),
		Sort:   []string{"id"},
		Limit:  -1,
	})
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return store.DecodeAll[model.Attachment](recs)
}
