package venue

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/pkg/classifier"
	"tollgate/pkg/core"
	"tollgate/pkg/feedback"
	"tollgate/pkg/governor"
)

const spotVenue = `
name: spot
profile:
  name: spot-vip0
  dimensions:
    - {name: weight_1m, shape: fixed, capacity: 6000, window: 1m}
    - {name: orders_10s, shape: rolling, capacity: 100, window: 10s}
    - {name: orders_1d, shape: fixed, capacity: 200000, window: 24h}
  categories:
    - {name: weight, cost: {weight_1m: 1}}
    - {name: order, cost: {weight_1m: 1, orders_10s: 1, orders_1d: 1}}
operations:
  - {op: GET /api/v3/time, category: weight}
  - {op: GET /api/v3/exchangeInfo, category: weight, factor: 20}
  - op: GET /api/v3/depth
    category: weight
    param: limit
    fallback: 5
    steps:
      - {up_to: 100, factor: 5}
      - {up_to: 500, factor: 25}
      - {up_to: 1000, factor: 50}
      - {up_to: 5000, factor: 250}
  - {op: POST /api/v3/order, category: order}
  - {op: POST /api/v3/order/test, category: weight, charge_on_reject: false}
feedback:
  interval_headers:
    X-MBX-USED-WEIGHT-: weight
    x-mbx-order-count-: orders
  body_codes:
    violations: {-1003: rate_limited, -1015: rate_limited}
    dimensions:
      -1003: [weight_1m]
      -1015: [orders_10s, orders_1d]
    rejections: [-1013, -2010]
`

const bucketVenue = `
name: credits
profile:
  name: credits-tier4
  dimensions:
    - {name: credits, shape: bucket, capacity: 50000, refill_rate: 10000}
    - {name: matching, shape: bucket, capacity: 20, refill_rate: 5}
  categories:
    - {name: non_matching, cost: {credits: 500}}
    - {name: matching, cost: {matching: 1}}
operations:
  - {op: private/buy, category: matching}
  - {op: public/ticker, category: non_matching}
feedback:
  remaining:
    - dimension: credits
      remaining: X-Credits-Remain
      limit: X-Credits-Limit
  status:
    rate_limited: [429, 10028]
`

func load(t *testing.T, doc string) *Venue {
	t.Helper()
	p, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v, err := p.Build(governor.WithClock(clock))
	require.NoError(t, err)
	return v
}

func TestLoad(t *testing.T) {
	v := load(t, spotVenue)
	assert.Equal(t, "spot", v.Name)
	assert.Equal(t, "spot-vip0", v.Governor.Profile().Name)
	assert.Len(t, v.Governor.Registry().Operations(), 5)

	reg := v.Governor.Registry()
	tests := []struct {
		op     string
		params core.Params
		weight int64
	}{
		{"GET /api/v3/time", nil, 1},
		{"GET /api/v3/exchangeInfo", nil, 20},
		{"GET /api/v3/depth", nil, 5},
		{"GET /api/v3/depth", core.Params{"limit": 500}, 25},
		{"GET /api/v3/depth", core.Params{"limit": 5000}, 250},
		{"POST /api/v3/order", nil, 1},
	}
	for _, tt := range tests {
		c, err := reg.Classify(tt.op, tt.params)
		require.NoError(t, err)
		assert.Equal(t, tt.weight, c.Cost.Get("weight_1m"), "%s %v", tt.op, tt.params)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "name: x\nlimits: 3\n"},
		{"invalid profile", "name: x\nprofile:\n  name: x\n"},
		{"unknown body field", spotVenue + "    extra: 1\n"},
		{"bad violation name", strings.Replace(spotVenue, "-1015: rate_limited", "-1015: throttled", 1)},
		{"remaining without header", strings.Replace(bucketVenue, "remaining: X-Credits-Remain", "capacity: 50000", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestPreset_BuildErrors(t *testing.T) {
	p, err := Load(strings.NewReader(strings.Replace(spotVenue, "{op: POST /api/v3/order, category: order}", "{op: POST /api/v3/order, category: orders}", 1)))
	require.NoError(t, err)
	_, err = p.Build()
	assert.True(t, core.IsConfigurationError(err))

	bad := Preset{Name: "broken", Profile: &core.TierProfile{Name: "broken"}}
	_, err = bad.Build()
	assert.Error(t, err)
}

func TestPreset_BuildWithoutParser(t *testing.T) {
	p := Preset{
		Name: "plain",
		Profile: &core.TierProfile{
			Name:       "plain",
			Dimensions: []core.DimensionSpec{core.FixedWindow("requests", 10, time.Second)},
			Categories: []core.Category{{Name: "request", Cost: map[string]int64{"requests": 1}}},
		},
		Rules: func(r *classifier.Registry) error {
			return r.Register("ping", classifier.Fixed("request"))
		},
	}
	v, err := p.Build()
	require.NoError(t, err)
	assert.Equal(t, feedback.DefaultStatusPolicy(), v.Parser.Status)
	assert.True(t, v.Governor.Registry().Has("ping"))
}

func TestLoad_Parser(t *testing.T) {
	v := load(t, spotVenue)

	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "1200")
	header.Set("X-MBX-ORDER-COUNT-10S", "7")
	meta := v.Parser.Parse(http.StatusOK, header, nil)
	assert.Equal(t, map[string]int64{"weight_1m": 1200, "orders_10s": 7}, meta.Usage)
	assert.True(t, meta.Succeeded())

	meta = v.Parser.Parse(http.StatusTooManyRequests, http.Header{}, []byte(`{"code":-1015,"msg":"Too many new orders"}`))
	assert.Equal(t, feedback.ViolationRateLimited, meta.Violation)
	assert.Equal(t, []string{"orders_10s", "orders_1d"}, meta.Dimensions)

	meta = v.Parser.Parse(http.StatusBadRequest, http.Header{}, []byte(`{"code":-2010,"msg":"Account has insufficient balance"}`))
	assert.True(t, meta.Rejected)
	assert.Equal(t, feedback.ViolationNone, meta.Violation)
}

func TestPreset_ParserSharesGovernorClock(t *testing.T) {
	v := load(t, spotVenue)
	assert.Same(t, v.Governor.Clock(), v.Parser.Clock)

	header := http.Header{}
	header.Set("Retry-After", v.Governor.Clock().Now().Add(90*time.Second).Format(http.TimeFormat))
	meta := v.Parser.Parse(http.StatusTooManyRequests, header, nil)
	assert.Equal(t, 90*time.Second, meta.RetryAfter)
}

func TestLoad_RefundOnRejectedTestOrder(t *testing.T) {
	v := load(t, spotVenue)

	p, err := v.Governor.TryAcquire("POST /api/v3/order/test", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Governor.Snapshot()["weight_1m"].Consumed)

	p.Complete(v.Parser.Parse(http.StatusBadRequest, http.Header{}, []byte(`{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`)))
	assert.Zero(t, v.Governor.Snapshot()["weight_1m"].Consumed)
}

func TestLoad_BucketVenue(t *testing.T) {
	v := load(t, bucketVenue)

	for range 20 {
		_, err := v.Governor.TryAcquire("private/buy", nil)
		require.NoError(t, err)
	}
	_, err := v.Governor.TryAcquire("private/buy", nil)
	assert.True(t, core.IsWouldExceed(err))

	_, err = v.Governor.TryAcquire("public/ticker", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(500), v.Governor.Snapshot()["credits"].Consumed)

	header := http.Header{}
	header.Set("X-Credits-Remain", "41000")
	header.Set("X-Credits-Limit", "50000")
	meta := v.Parser.Parse(http.StatusOK, header, nil)
	assert.Equal(t, map[string]int64{"credits": 9000}, meta.Usage)

	meta = v.Parser.Parse(10028, http.Header{}, nil)
	assert.Equal(t, feedback.ViolationRateLimited, meta.Violation)
}

func TestContainer(t *testing.T) {
	c := NewContainer()
	spot := load(t, spotVenue)
	credits := load(t, bucketVenue)

	c.Register("main", spot)
	c.Register("deriv", credits)
	assert.Equal(t, []string{"deriv", "main"}, c.Names())

	got, err := c.Get("main")
	require.NoError(t, err)
	assert.Same(t, spot, got)

	_, err = c.Get("missing")
	assert.Error(t, err)

	_, err = spot.Governor.TryAcquire("GET /api/v3/depth", core.Params{"limit": 1000})
	require.NoError(t, err)
	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap["main"]["weight_1m"].Consumed)
	assert.Equal(t, int64(0), snap["deriv"]["credits"].Consumed)

	c.Unregister("deriv")
	assert.Equal(t, []string{"main"}, c.Names())
}
