package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const keySeparator = "?"

// Params 请求参数，参与缓存键计算
type Params map[string]any

// BuildKey 生成缓存键：无参数时为 id，否则为 id?k1=JSON(v1)&k2=JSON(v2)，参数键按字典序排列
func BuildKey(id string, params Params) string {
	if len(params) == 0 {
		return id
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(id)
	b.WriteString(keySeparator)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeValue(params[k]))
	}
	return b.String()
}

// encodeValue JSON 编码参数值，map 类型由 encoding/json 按键排序，保证结果稳定
func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
