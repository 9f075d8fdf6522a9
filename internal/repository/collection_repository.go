package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"

	"gorm.io/gorm"
)

// ErrUnknownField 更新中包含模型没有的字段
var ErrUnknownField = errors.New("unknown field")

// CollectionRepository 按集合名访问数据库表，实现 store.Store
// 每个集合对应一个已注册的模型，查询结果按模型的 json 标签编码为记录
type CollectionRepository struct {
	db     *gorm.DB
	models map[string]reflect.Type
}

// NewCollectionRepository 创建CollectionRepository实例
func NewCollectionRepository(db *gorm.DB, models ...model.Collection) *CollectionRepository {
	r := &CollectionRepository{db: db, models: make(map[string]reflect.Type, len(models))}
	for _, m := range models {
		t := reflect.TypeOf(m)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		r.models[m.TableName()] = t
	}
	return r
}

// Has 集合是否已注册
func (r *CollectionRepository) Has(collection string) bool {
	_, ok := r.models[collection]
	return ok
}

func (r *CollectionRepository) newModel(collection string) (any, reflect.Type, error) {
	t, ok := r.models[collection]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown collection %q", store.ErrNotFound, collection)
	}
	return reflect.New(t).Interface(), t, nil
}

// List 按过滤条件、排序和分页查询
func (r *CollectionRepository) List(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	obj, t, err := r.newModel(collection)
	if err != nil {
		return nil, err
	}

	tx := r.db.WithContext(ctx).Model(obj)

	clause, args, err := q.Filter.SQL()
	if err != nil {
		return nil, err
	}
	if clause != "" {
		tx = tx.Where(clause, args...)
	}

	for _, s := range q.Sort {
		desc := strings.HasPrefix(s, "-")
		col := strings.TrimPrefix(s, "-")
		if !store.ValidField(col) {
			return nil, fmt.Errorf("%w: sort field %q", store.ErrInvalidQuery, s)
		}
		if desc {
			tx = tx.Order(col + " DESC")
		} else {
			tx = tx.Order(col + " ASC")
		}
	}

	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	rows := reflect.New(reflect.SliceOf(reflect.PointerTo(t)))
	if err := tx.Find(rows.Interface()).Error; err != nil {
		return nil, err
	}

	slice := rows.Elem()
	out := make([]store.Record, 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		rec, err := encode(slice.Index(i).Interface(), q.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get 根据ID获取记录
func (r *CollectionRepository) Get(ctx context.Context, collection string, id any, fields ...string) (store.Record, error) {
	obj, _, err := r.newModel(collection)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).First(obj, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return encode(obj, fields)
}

// Create 创建记录
func (r *CollectionRepository) Create(ctx context.Context, collection string, rec store.Record) (store.Record, error) {
	obj, _, err := r.newModel(collection)
	if err != nil {
		return nil, err
	}
	if err := store.Decode(rec, obj); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(obj).Error; err != nil {
		return nil, err
	}
	return encode(obj, nil)
}

// Update 局部更新，只写入 patch 中出现的字段
func (r *CollectionRepository) Update(ctx context.Context, collection string, id any, patch store.Record) (store.Record, error) {
	obj, t, err := r.newModel(collection)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).First(obj, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	updates, err := columnValues(t, patch)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).Model(obj).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	fresh := reflect.New(t).Interface()
	if err := r.db.WithContext(ctx).First(fresh, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return encode(fresh, nil)
}

// Delete 删除记录
func (r *CollectionRepository) Delete(ctx context.Context, collection string, id any) error {
	obj, _, err := r.newModel(collection)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(obj)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// columnValues 把记录中的值按模型字段类型转换，键为列名（与 json 标签一致）
func columnValues(t reflect.Type, patch store.Record) (map[string]any, error) {
	fields := make(map[string]reflect.StructField, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		fields[name] = f
	}

	updates := make(map[string]any, len(patch))
	for key, value := range patch {
		if key == "id" {
			continue
		}
		f, ok := fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		if f.Tag.Get("gorm") == "-" {
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		typed := reflect.New(f.Type)
		if err := json.Unmarshal(data, typed.Interface()); err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		updates[key] = typed.Elem().Interface()
	}
	return updates, nil
}

func encode(obj any, fields []string) (store.Record, error) {
	rec, err := store.Encode(obj)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return rec, nil
	}
	out := make(store.Record, len(fields))
	for _, f := range fields {
		if f == "*" {
			return rec, nil
		}
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

var _ store.Store = (*CollectionRepository)(nil)
