package domain

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/dynipsets/internal/clock"
	"grimm.is/dynipsets/internal/logging"
)

// MockResolver is a testify mock of resolver.Resolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) LookupHost(ctx context.Context, fqdn string) ([]netip.Addr, error) {
	args := m.Called(ctx, fqdn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]netip.Addr), args.Error(1)
}

type recordingObserver struct {
	outcomes []Outcome
}

func (o *recordingObserver) ObserveRefresh(_ string, outcome Outcome, _ int) {
	o.outcomes = append(o.outcomes, outcome)
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}

func testEnv(r *MockResolver, c clock.Clock) Env {
	return Env{Resolver: r, Clock: c, Logger: logging.Discard()}
}

var (
	start = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

func TestParseDeclaration(t *testing.T) {
	tests := []struct {
		line    string
		want    Declaration
		wantErr bool
	}{
		{line: "example.com 5", want: Declaration{FQDN: "example.com", Interval: 5 * time.Minute}},
		{line: "example.com 0", want: Declaration{FQDN: "example.com", Interval: 0}},
		{line: "example.com", wantErr: true},
		{line: "example.com 5 extra", wantErr: true},
		{line: "example.com  5", wantErr: true},
		{line: "example.com -5", wantErr: true},
		{line: "example.com five", wantErr: true},
		{line: " 5", wantErr: true},
		{line: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			got, err := ParseDeclaration(tc.line)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDeclaration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_ResolvesImmediately(t *testing.T) {
	r := new(MockResolver)
	r.On("LookupHost", mock.Anything, "example.com").Return(addrs("93.184.216.34"), nil).Once()

	d, err := Parse(ctx, "example.com 5", testEnv(r, clock.NewMockClock(start)))
	require.NoError(t, err)

	at, ok := d.Refreshed().Time()
	assert.True(t, ok)
	assert.True(t, at.Equal(start))
	assert.Equal(t, addrs("93.184.216.34"), d.Addrs())
	r.AssertExpectations(t)
}

func TestParse_InvalidDoesNotResolve(t *testing.T) {
	r := new(MockResolver)

	_, err := Parse(ctx, "not a declaration", testEnv(r, nil))
	assert.ErrorIs(t, err, ErrInvalidDeclaration)
	r.AssertNotCalled(t, "LookupHost", mock.Anything, mock.Anything)
}

func TestRefresh_ChangeDetection(t *testing.T) {
	tests := []struct {
		name string
		next []netip.Addr
		want Outcome
	}{
		{"same set reordered", addrs("192.0.2.2", "192.0.2.1"), Unchanged},
		{"size differs", addrs("192.0.2.1"), Changed},
		{"member missing", addrs("192.0.2.1", "192.0.2.3"), Changed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := clock.NewMockClock(start)
			r := new(MockResolver)
			r.On("LookupHost", mock.Anything, "a.example").Return(addrs("192.0.2.1", "192.0.2.2"), nil).Once()
			r.On("LookupHost", mock.Anything, "a.example").Return(tc.next, nil).Once()

			d := New(ctx, Declaration{FQDN: "a.example", Interval: time.Minute}, testEnv(r, c))
			c.Advance(time.Second)

			assert.Equal(t, tc.want, d.Refresh(ctx))

			at, _ := d.Refreshed().Time()
			assert.True(t, at.Equal(start.Add(time.Second)), "timestamp advances on every successful lookup")
			if tc.want == Unchanged {
				assert.Equal(t, addrs("192.0.2.1", "192.0.2.2"), d.Addrs())
			} else {
				assert.Equal(t, tc.next, d.Addrs())
			}
		})
	}
}

func TestRefresh_FailureKeepsState(t *testing.T) {
	c := clock.NewMockClock(start)
	r := new(MockResolver)
	r.On("LookupHost", mock.Anything, "a.example").Return(addrs("192.0.2.1"), nil).Once()
	r.On("LookupHost", mock.Anything, "a.example").Return(nil, errors.New("SERVFAIL")).Once()

	obs := &recordingObserver{}
	env := testEnv(r, c)
	env.Observer = obs

	d := New(ctx, Declaration{FQDN: "a.example", Interval: time.Minute}, env)
	c.Advance(time.Minute)

	assert.Equal(t, NoResult, d.Refresh(ctx))
	assert.Equal(t, addrs("192.0.2.1"), d.Addrs())
	at, _ := d.Refreshed().Time()
	assert.True(t, at.Equal(start))
	assert.True(t, d.Usable())
	assert.Equal(t, []Outcome{Changed, NoResult}, obs.outcomes)
}

func TestRefresh_FirstLookupFails(t *testing.T) {
	r := new(MockResolver)
	r.On("LookupHost", mock.Anything, "a.example").Return(nil, errors.New("timeout")).Once()

	d := New(ctx, Declaration{FQDN: "a.example", Interval: time.Minute}, testEnv(r, nil))

	_, ok := d.Refreshed().Time()
	assert.False(t, ok)
	assert.False(t, d.Usable())
	_, rendered := d.Render()
	assert.False(t, rendered)
}

func TestMaybeRefresh_RateLimited(t *testing.T) {
	c := clock.NewMockClock(start)
	r := new(MockResolver)
	r.On("LookupHost", mock.Anything, "a.example").Return(addrs("192.0.2.1"), nil).Twice()

	d := New(ctx, Declaration{FQDN: "a.example", Interval: 5 * time.Minute}, testEnv(r, c))

	c.Advance(4 * time.Minute)
	assert.Equal(t, Unchanged, d.MaybeRefresh(ctx))
	r.AssertNumberOfCalls(t, "LookupHost", 1)

	c.Advance(time.Minute)
	assert.Equal(t, Unchanged, d.MaybeRefresh(ctx))
	r.AssertNumberOfCalls(t, "LookupHost", 2)
}

func TestMaybeRefresh_NeverRefreshedAlwaysResolves(t *testing.T) {
	r := new(MockResolver)
	r.On("LookupHost", mock.Anything, "a.example").Return(nil, errors.New("down")).Once()
	r.On("LookupHost", mock.Anything, "a.example").Return(addrs("192.0.2.1"), nil).Once()

	d := New(ctx, Declaration{FQDN: "a.example", Interval: time.Hour}, testEnv(r, clock.NewMockClock(start)))

	assert.Equal(t, Changed, d.MaybeRefresh(ctx))
	r.AssertExpectations(t)
}

func TestRender(t *testing.T) {
	r := new(MockResolver)
	r.On("LookupHost", mock.Anything, "www.example.com").
		Return(addrs("93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"), nil).Once()

	d := New(ctx, Declaration{FQDN: "www.example.com", Interval: time.Minute}, testEnv(r, nil))

	block, ok := d.Render()
	require.True(t, ok)
	assert.Equal(t,
		"[IPSET domain_www_example_com]\n\n"+
			"93.184.216.34/32\n"+
			"2606:2800:220:1:248:1893:25c8:1946/128\n"+
			"\n",
		block)
}

func TestRender_EmptyAddressSet(t *testing.T) {
	r := new(MockResolver)
	r.On("LookupHost", mock.Anything, "a.example").Return([]netip.Addr{}, nil).Once()

	d := New(ctx, Declaration{FQDN: "a.example", Interval: time.Minute}, testEnv(r, nil))

	assert.False(t, d.Usable())
	_, ok := d.Render()
	assert.False(t, ok)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "no_result", NoResult.String())
}
