package s3

import (
	"fmt"
	"path"
	"strings"
)

// keyspace maps archive keys onto bucket keys under an optional root prefix.
type keyspace struct {
	root string
}

func newKeyspace(prefix string) (keyspace, error) {
	root := strings.Trim(strings.TrimSpace(prefix), "/")
	if root == "" {
		return keyspace{}, nil
	}
	root = path.Clean(root)
	if escapes(root) {
		return keyspace{}, fmt.Errorf("invalid archive prefix %q", prefix)
	}
	return keyspace{root: root}, nil
}

// object returns the bucket key for an archive key, rejecting keys that
// would leave the root.
func (k keyspace) object(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || escapes(cleaned) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return k.join(cleaned), nil
}

// listing returns the bucket prefix for a List call. A trailing slash is kept
// so "datasets/a/" does not match "datasets/ab/".
func (k keyspace) listing(prefix string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		if k.root == "" {
			return "", nil
		}
		return k.root + "/", nil
	}
	cleaned := path.Clean(trimmed)
	if escapes(cleaned) {
		return "", fmt.Errorf("invalid object prefix %q", prefix)
	}
	if strings.HasSuffix(trimmed, "/") {
		cleaned += "/"
	}
	return k.join(cleaned), nil
}

// relative strips the root from a bucket key.
func (k keyspace) relative(full string) string {
	if k.root == "" {
		return full
	}
	return strings.TrimPrefix(full, k.root+"/")
}

func (k keyspace) join(key string) string {
	if k.root == "" {
		return key
	}
	return k.root + "/" + key
}

func escapes(cleaned string) bool {
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}
