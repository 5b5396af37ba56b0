package fed

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestParseTime_SecondsAndDurations(t *testing.T) {
	tests := []struct {
		in   string
		want Time
	}{
		{"0", 0},
		{"1800", Seconds(1800)},
		{"0.5", Time(500 * time.Millisecond)},
		{"15s", Seconds(15)},
		{"6h", Seconds(21600)},
		{" 90 ", Seconds(90)},
	}
	for _, tc := range tests {
		got, err := ParseTime(tc.in)
		if err != nil {
			t.Errorf("ParseTime(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTime(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseTime_Invalid_ReturnsConfigError(t *testing.T) {
	for _, in := range []string{"", "-1", "soon", "-5s", "NaN", "nan", "+Inf", "-Inf"} {
		_, err := ParseTime(in)
		if !errors.Is(err, ErrConfig) {
			t.Errorf("ParseTime(%q): expected ErrConfig, got %v", in, err)
		}
	}
}

func TestTime_SecondsRoundTrip(t *testing.T) {
	assert.Equal(t, 1800.0, Seconds(1800).Seconds())
	assert.Equal(t, "30m0s", Seconds(1800).String())
	assert.Equal(t, "max", MaxTime.String())
	assert.Equal(t, MaxTime, Seconds(1e12))
	assert.Equal(t, InitialTime, Seconds(math.NaN()))
}

func TestTime_UnmarshalYAML(t *testing.T) {
	var doc struct {
		A Time `yaml:"a"`
		B Time `yaml:"b"`
	}
	err := yaml.Unmarshal([]byte("a: 60\nb: 2m\n"), &doc)
	assert.NoError(t, err)
	assert.Equal(t, Seconds(60), doc.A)
	assert.Equal(t, Seconds(120), doc.B)

	err = yaml.Unmarshal([]byte("a: [1, 2]\n"), &doc)
	assert.ErrorIs(t, err, ErrConfig)
}
