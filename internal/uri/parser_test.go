package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want []string
	}{
		{
			name: "clean path",
			uri:  "/submit/telemetry/doc-1",
			want: []string{"submit", "telemetry", "doc-1"},
		},
		{
			name: "no leading separator",
			uri:  "foo/bar",
			want: []string{"foo", "bar"},
		},
		{
			name: "trailing separator",
			uri:  "/foo/bar/",
			want: []string{"foo", "bar"},
		},
		{
			name: "repeated separators collapse",
			uri:  "///foo//bar/",
			want: []string{"foo", "bar"},
		},
		{
			name: "root only",
			uri:  "/",
			want: []string{},
		},
		{
			name: "empty string",
			uri:  "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.uri)
			assert.Equal(t, tt.want, append([]string{}, got...))
		})
	}
}
