package position

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMidpoints(t *testing.T) {
	p, err := Between(10, 20)
	require.NoError(t, err)
	assert.Equal(t, 15.0, p)

	p, err = Head(10, true)
	require.NoError(t, err)
	assert.Equal(t, 5.0, p)

	p, err = Tail(10, true)
	require.NoError(t, err)
	assert.Equal(t, 10+Step, p)
}

func TestEmptyContainerStartsAtBase(t *testing.T) {
	p, err := Head(0, false)
	require.NoError(t, err)
	assert.Equal(t, Base, p)

	p, err = Tail(0, false)
	require.NoError(t, err)
	assert.Equal(t, Base, p)

	p, err = At(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, Base, p)
}

func TestAt(t *testing.T) {
	siblings := []float64{10, 20, 30}
	cases := []struct {
		name  string
		index int
		want  float64
	}{
		{"head", 0, 5},
		{"negative clamps to head", -4, 5},
		{"between first and second", 1, 15},
		{"between second and third", 2, 25},
		{"tail", 3, 30 + Step},
		{"past tail", 99, 30 + Step},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := At(siblings, tc.index)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRenumberTrigger(t *testing.T) {
	a := 1.0
	b := math.Nextafter(a, 2)
	_, err := Between(a, b)
	assert.ErrorIs(t, err, ErrRenumberNeeded)

	_, err = Between(5, 5)
	assert.ErrorIs(t, err, ErrRenumberNeeded)

	_, err = Head(0, true)
	assert.ErrorIs(t, err, ErrRenumberNeeded)

	_, err = Tail(math.MaxFloat64, true)
	assert.ErrorIs(t, err, ErrRenumberNeeded)

	_, err = At([]float64{a, b}, 1)
	assert.ErrorIs(t, err, ErrRenumberNeeded)
}

func TestRepeatedHeadInsertsEventuallyRenumber(t *testing.T) {
	first := Base
	var err error
	for i := 0; i < 2000; i++ {
		var p float64
		p, err = Head(first, true)
		if err != nil {
			break
		}
		require.Less(t, p, first)
		first = p
	}
	require.ErrorIs(t, err, ErrRenumberNeeded)

	keys := Renumber(3)
	assert.Equal(t, []float64{Step, 2 * Step, 3 * Step}, keys)
	p, err := At(keys, 0)
	require.NoError(t, err)
	assert.Equal(t, Step/2, p)
}

func TestRepeatedMidpointsStayOrdered(t *testing.T) {
	keys := []float64{Step, 2 * Step}
	for i := 0; i < 30; i++ {
		p, err := At(keys, 1)
		require.NoError(t, err)
		keys = append([]float64{keys[0], p}, keys[1:]...)
		require.True(t, Ordered(keys), "keys out of order after %d inserts: %v", i, keys)
	}
}

func TestSequence(t *testing.T) {
	keys, err := Sequence(30, true, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{30 + Step, 30 + 2*Step, 30 + 3*Step}, keys)

	keys, err = Sequence(0, false, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{Base, Base + Step}, keys)

	keys, err = Sequence(0, false, 0)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = Sequence(math.MaxFloat64, true, 2)
	assert.ErrorIs(t, err, ErrRenumberNeeded)
}

func TestOrdered(t *testing.T) {
	assert.True(t, Ordered(nil))
	assert.True(t, Ordered([]float64{1, 2, 3}))
	assert.False(t, Ordered([]float64{1, 1}))
	assert.False(t, Ordered([]float64{2, 1}))
}
