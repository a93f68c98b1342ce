package flagx

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewaySet mirrors the gateway's own flags: value flags -u, -d, -v, -i and
// switches -w, -q.
var gatewaySet = Set{"u": true, "d": true, "v": true, "i": true, "w": false, "q": false}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "upstream and data dir",
			args: []string{"-u", "http://api.local:8080", "-d", "/var/lib/og"},
			want: []string{"-u", "http://api.local:8080", "-d", "/var/lib/og"},
		},
		{
			name: "foreign flags dropped",
			args: []string{"-c", "og.json", "-v", "7", "-x", "1"},
			want: []string{"-v", "7"},
		},
		{
			name: "equals and double dash forms",
			args: []string{"--u=http://up", "-v=8", "--d", "/data"},
			want: []string{"--u=http://up", "-v=8", "--d", "/data"},
		},
		{
			name: "switch does not swallow positional",
			args: []string{"-w", "serve", "-q"},
			want: []string{"-w", "-q"},
		},
		{
			name: "switch with explicit value",
			args: []string{"-q=false"},
			want: []string{"-q=false"},
		},
		{
			name: "value flag followed by a flag",
			args: []string{"-v", "-w"},
			want: []string{"-v", "-w"},
		},
		{
			name: "value flag at end",
			args: []string{"-d"},
			want: []string{"-d"},
		},
		{
			name: "stops at terminator",
			args: []string{"-v", "2", "--", "-u", "http://ignored"},
			want: []string{"-v", "2"},
		},
		{
			name: "repeats kept in order",
			args: []string{"-v", "1", "-i", "5s", "-v", "2"},
			want: []string{"-v", "1", "-i", "5s", "-v", "2"},
		},
		{
			name: "lone dashes are not flags",
			args: []string{"-", "-=x"},
			want: []string{},
		},
		{
			name: "empty",
			args: nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Filter(tt.args, gatewaySet))
		})
	}
}

func TestFromFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("og", flag.ContinueOnError)
	fs.String("u", "", "")
	fs.Duration("i", time.Second, "")
	fs.Bool("w", false, "")

	assert.Equal(t, Set{"u": true, "i": true, "w": false}, FromFlagSet(fs))
}

func TestFilter_FeedsFlagSet(t *testing.T) {
	var (
		upstream string
		version  string
		skip     bool
	)
	fs := flag.NewFlagSet("og", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&upstream, "u", "", "")
	fs.StringVar(&version, "v", "1", "")
	fs.BoolVar(&skip, "w", false, "")

	args := []string{"-c", "og.json", "-w", "-u", "http://up", "--level", "debug", "-v", "9"}
	require.NoError(t, fs.Parse(Filter(args, FromFlagSet(fs))))

	assert.Equal(t, "http://up", upstream)
	assert.Equal(t, "9", version)
	assert.True(t, skip)
}

func TestConfigFile(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "short", args: []string{"-c", "/etc/og.json"}, want: "/etc/og.json"},
		{name: "long", args: []string{"-config", "/etc/og.json"}, want: "/etc/og.json"},
		{name: "double dash equals", args: []string{"--config=/etc/og.json", "-u", "http://up"}, want: "/etc/og.json"},
		{name: "mixed with gateway flags", args: []string{"-u", "http://up", "-w", "-c", "og.json", "-d", "/data"}, want: "og.json"},
		{name: "absent", args: []string{"-u", "http://up", "-v", "3"}, want: ""},
		{name: "last wins", args: []string{"-c", "a.json", "-config", "b.json"}, want: "b.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigFile(tt.args))
		})
	}
}
