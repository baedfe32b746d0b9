package cache

import (
	"reflect"
)

// Stats 缓存统计
type Stats struct {
	Size        int     `json:"size"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hitRate"`
	MemoryUsage int64   `json:"memoryUsage"` // 估算值（字节）
}

// Stats 返回缓存统计；无请求时命中率为 0
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Size:   c.order.Len(),
		Hits:   c.hits,
		Misses: c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}

	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		it := elem.Value.(*item[T])
		stats.MemoryUsage += int64(len(it.key)) * 2
		stats.MemoryUsage += estimateSize(reflect.ValueOf(it.entry.Data), 0)
	}
	return stats
}

const maxEstimateDepth = 5

// Sizer 由值自行给出估算大小，持有锁或连接的值应实现它以免被反射遍历
type Sizer interface {
	ApproxSize() int64
}

var sizerType = reflect.TypeOf((*Sizer)(nil)).Elem()

// estimateSize 粗略估算值占用的字节数：只累加基础类型字段，超过深度上限的部分忽略
func estimateSize(v reflect.Value, depth int) int64 {
	if !v.IsValid() || depth > maxEstimateDepth {
		return 0
	}
	if v.Type().Implements(sizerType) && v.CanInterface() {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return 0
		}
		return v.Interface().(Sizer).ApproxSize()
	}

	switch v.Kind() {
	case reflect.String:
		return int64(v.Len()) * 2
	case reflect.Bool:
		return 4
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return 8
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return estimateSize(v.Elem(), depth)
	case reflect.Slice, reflect.Array:
		var size int64
		for i := 0; i < v.Len(); i++ {
			size += estimateSize(v.Index(i), depth+1)
		}
		return size
	case reflect.Map:
		var size int64
		iter := v.MapRange()
		for iter.Next() {
			size += int64(len(iter.Key().String())) * 2
			size += estimateSize(iter.Value(), depth+1)
		}
		return size
	case reflect.Struct:
		var size int64
		for i := 0; i < v.NumField(); i++ {
			size += estimateSize(v.Field(i), depth+1)
		}
		return size
	default:
		return 0
	}
}
