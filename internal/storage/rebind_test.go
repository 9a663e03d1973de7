// File: internal/storage/rebind_test.go
package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM orders WHERE id = $1 AND status = $2",
		rebindDollar("SELECT 1 FROM orders WHERE id = ? AND status = ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
	assert.Equal(t, "id = ?", rebindNone("id = ?"))
}
