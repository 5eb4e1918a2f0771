package handler

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorFragment 生成 {"error": "<msg>"}，用于流内错误和空消息响应
func errorFragment(msg string) string {
	quoted, err := json.Marshal(msg)
	if err != nil {
		quoted = []byte(`"internal error"`)
	}
	return fmt.Sprintf(`{"error": %s}`, quoted)
}
