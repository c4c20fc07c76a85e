package xid

import "github.com/google/uuid"

// New returns "<prefix>-<uuid>".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
