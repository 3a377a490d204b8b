package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want Template
	}{
		{"in accept tcp warn", Template{In, Accept, "tcp", Warning}},
		{"OUT Drop udp none", Template{Out, Drop, "udp", NoLog}},
		{"in reject SSH crit", Template{In, Reject, "SSH", Critical}},
		{"out accept HTTPS dbg", Template{Out, Accept, "HTTPS", Debug}},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			got, err := Parse(tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, line := range []string{
		"",
		"in accept tcp",
		"in accept tcp warn extra",
		"sideways accept tcp warn",
		"in allow tcp warn",
		"in accept tcp loud",
		"in  accept tcp warn",
	} {
		t.Run(line, func(t *testing.T) {
			_, err := Parse(line)
			assert.ErrorIs(t, err, ErrInvalidTemplate)
		})
	}
}

func TestParseLogLevel_Synonyms(t *testing.T) {
	pairs := map[string]string{
		"nolog": "none", "emergency": "emerg", "critical": "crit", "error": "err",
		"warning": "warn", "notice": "ntc", "info": "inf", "debug": "dbg",
	}
	for long, short := range pairs {
		a, ok := ParseLogLevel(long)
		require.True(t, ok, long)
		b, ok := ParseLogLevel(short)
		require.True(t, ok, short)
		assert.Equal(t, a, b, "%s and %s", long, short)
	}

	alert, ok := ParseLogLevel("ALERT")
	require.True(t, ok)
	assert.Equal(t, Alert, alert)
}

func TestLogLevel_Canonical(t *testing.T) {
	want := []string{"nolog", "emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}
	for i, name := range want {
		assert.Equal(t, name, LogLevel(i).String())
	}
}

func TestExpand(t *testing.T) {
	in, err := Parse("in accept tcp warn")
	require.NoError(t, err)
	assert.Equal(t, "IN tcp(ACCEPT) -source +dc/domain_example_com -log warning\n", in.Expand("example_com"))

	out, err := Parse("out reject DNS nolog")
	require.NoError(t, err)
	assert.Equal(t, "OUT DNS(REJECT) -dest +dc/domain_a_b -log nolog\n", out.Expand("a_b"))
}

func TestTemplate_Comparable(t *testing.T) {
	a, _ := Parse("in accept tcp warn")
	b, _ := Parse("IN ACCEPT tcp warning")
	c, _ := Parse("in accept udp warn")

	assert.True(t, a == b)
	assert.False(t, a == c)
}
