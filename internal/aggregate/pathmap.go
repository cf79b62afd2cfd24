package aggregate

import (
	"strings"

	"github.com/i2y/oasgate/internal/domain"
)

// MapPath moves a source route under the gateway prefix of src.
//
// If path starts with src.SourcePathPrefix that prefix is replaced,
// otherwise the gateway prefix is prepended to the whole path. Trailing
// slashes of the gateway prefix are dropped before joining.
func MapPath(path string, src domain.SourceDescriptor) string {
	prefix := strings.TrimRight(src.GatewayPathPrefix, "/")
	var mapped string
	if strings.HasPrefix(path, src.SourcePathPrefix) {
		mapped = prefix + path[len(src.SourcePathPrefix):]
	} else {
		mapped = prefix + path
	}
	if mapped == "" {
		return "/"
	}
	return mapped
}
