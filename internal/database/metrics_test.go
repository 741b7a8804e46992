package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCollector(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	collector := NewPoolCollector(db, "promptlab")
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(collector))

	// 3 个连接状态 + 2 个关闭原因 + 等待次数 + 等待时长
	assert.Equal(t, 7, testutil.CollectAndCount(collector))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "promptlab_db_connections")
	assert.Contains(t, names, "promptlab_db_wait_count_total")
}
