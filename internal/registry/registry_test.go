package registry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-exporter/internal/source"
)

func snapshot(id string, values map[string]float64) *source.Snapshot {
	s := source.NewSnapshot(id)
	for name, v := range values {
		s.Set(name, "help for "+name, v)
	}
	return s
}

func TestPublishAndScrape(t *testing.T) {
	r := New()
	r.Publish("openchia", snapshot("openchia", map[string]float64{"openchia_pool_farmers": 3}))
	r.Publish("truepool", snapshot("truepool", map[string]float64{"truepool_farmer_points": 5}))

	expected := `
# HELP openchia_pool_farmers help for openchia_pool_farmers
# TYPE openchia_pool_farmers gauge
openchia_pool_farmers 3
# HELP truepool_farmer_points help for truepool_farmer_points
# TYPE truepool_farmer_points gauge
truepool_farmer_points 5
`
	require.NoError(t, testutil.CollectAndCompare(r, strings.NewReader(expected)))
}

func TestClearRemovesWholeSource(t *testing.T) {
	r := New()
	r.Publish("chia_node", snapshot("chia_node", map[string]float64{"chia_stats_og_count": 2, "chia_stats_ttw": 90}))
	r.Publish("openchia", snapshot("openchia", map[string]float64{"openchia_pool_farmers": 3}))
	assert.Equal(t, 3, testutil.CollectAndCount(r))

	r.Clear("chia_node")
	assert.Equal(t, 1, testutil.CollectAndCount(r))
	_, ok := r.Published("chia_node")
	assert.False(t, ok)

	r.Clear("never-published")
	assert.Equal(t, 1, testutil.CollectAndCount(r))
}

func TestPublishReplacesPreviousSnapshot(t *testing.T) {
	r := New()
	r.Publish("chia_node", snapshot("chia_node", map[string]float64{"chia_stats_og_count": 2, "chia_stats_ttw": 90}))
	r.Publish("chia_node", snapshot("chia_node", map[string]float64{"chia_stats_og_count": 4}))

	n, ok := r.Published("chia_node")
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, testutil.CollectAndCount(r))
}

func TestPublishedSnapshotIsDetached(t *testing.T) {
	r := New()
	snap := snapshot("chia_node", map[string]float64{"chia_stats_og_count": 2})
	r.Publish("chia_node", snap)
	snap.Set("chia_stats_og_count", "", 99)
	snap.Set("chia_stats_extra", "", 1)

	expected := `
# HELP chia_stats_og_count help for chia_stats_og_count
# TYPE chia_stats_og_count gauge
chia_stats_og_count 2
`
	require.NoError(t, testutil.CollectAndCompare(r, strings.NewReader(expected)))
}

func TestRegistersAsUncheckedCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New()
	require.NoError(t, reg.Register(r))

	r.Publish("openchia", snapshot("openchia", map[string]float64{"openchia_pool_farmers": 3}))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "openchia_pool_farmers", families[0].GetName())

	r.Clear("openchia")
	families, err = reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
