package optimization

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatJSON(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"finite", 1.5, `1.5`},
		{"positive infinity", math.Inf(1), `"+Inf"`},
		{"negative infinity", math.Inf(-1), `"-Inf"`},
		{"nan", math.NaN(), `"NaN"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(Float(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))

			var back Float
			require.NoError(t, json.Unmarshal(data, &back))
			if math.IsNaN(tt.in) {
				assert.True(t, math.IsNaN(float64(back)))
			} else {
				assert.Equal(t, tt.in, float64(back))
			}
		})
	}
}

func TestFloatUnmarshalInvalid(t *testing.T) {
	var f Float
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &f))
	assert.Error(t, json.Unmarshal([]byte(`true`), &f))
}

func TestFloats(t *testing.T) {
	assert.Nil(t, Floats(nil))

	data, err := json.Marshal(Floats([]float64{1, math.Inf(1)}))
	require.NoError(t, err)
	assert.Equal(t, `[1,"+Inf"]`, string(data))
}
