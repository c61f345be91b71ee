package storage

import (
	"fmt"
	"strings"
)

const locationScheme = "s3://"

// Location 对象存储中的一个位置。
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ParseLocation 解析 s3://bucket/key 形式的位置字符串
func ParseLocation(raw string) (Location, error) {
	if !strings.HasPrefix(raw, locationScheme) {
		return Location{}, fmt.Errorf("location %q: missing %s scheme", raw, locationScheme)
	}
	rest := strings.TrimPrefix(raw, locationScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("location %q: expected s3://bucket/key", raw)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// String 返回 s3://bucket/key
func (l Location) String() string {
	return locationScheme + l.Bucket + "/" + l.Key
}

// IsZero 位置是否为空
func (l Location) IsZero() bool {
	return l.Bucket == "" && l.Key == ""
}
