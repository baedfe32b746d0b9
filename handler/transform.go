package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tokmz/databind"
	dberrors "github.com/tokmz/databind/pkg/errors"
)

// Navigate 按点路径读取嵌套字段，"a.b.0.c" 中的数字段索引数组。
// 任一段不存在时返回 nil
func Navigate(data any, path string) any {
	if path == "" {
		return data
	}

	cur := data
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		default:
			return nil
		}
	}
	return cur
}

// applyTransform 先按点路径取值，再执行 TransformFunc；panic 视为转换失败
func applyTransform(id string, hc *databind.HTTPConfig, data any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = dberrors.ErrTransform.WithDatasource(id).WithError(fmt.Errorf("transform panic: %v", r))
		}
	}()

	out = data
	if hc.Transform != "" {
		out = Navigate(out, hc.Transform)
	}
	if hc.TransformFunc != nil {
		out, err = hc.TransformFunc(out)
		if err != nil {
			return nil, dberrors.ErrTransform.WithDatasource(id).WithError(err)
		}
	}
	return out, nil
}
