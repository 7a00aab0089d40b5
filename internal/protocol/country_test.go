package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountryCodes(t *testing.T) {
	tests := []struct {
		name string
		code Country
	}{
		{"JP", 111},
		{"US", 225},
		{"DE", 56},
		{"GB", 77},
		{"KR", 119},
		{"OC", 1},
		{"MF", 252},
	}
	for _, tt := range tests {
		c, err := ParseCountry(tt.name)
		require.NoError(t, err)
		require.Equal(t, tt.code, c)
		require.Equal(t, tt.name, c.String())
	}

	require.Equal(t, CountryJapan, Country(111))
}

func TestParseCountryRejectsUnknown(t *testing.T) {
	for _, name := range []string{"", "XX", "ZZ", "japan"} {
		_, err := ParseCountry(name)
		require.Error(t, err, name)
	}

	c, err := ParseCountry(" jp ")
	require.NoError(t, err)
	require.Equal(t, CountryJapan, c)
}

func TestCountryUnmapped(t *testing.T) {
	require.Equal(t, "XX", Country(253).String())
	require.False(t, Country(253).Valid())
	require.False(t, CountryUnknown.Valid())
	require.False(t, Country(244).Valid())
}

func TestCountriesSortedAndValid(t *testing.T) {
	list := Countries()
	require.NotEmpty(t, list)
	for i, c := range list {
		require.True(t, c.Valid())
		if i > 0 {
			require.Less(t, list[i-1].String(), c.String())
		}
	}
}

func TestCountryJSON(t *testing.T) {
	data, err := json.Marshal(CountryJapan)
	require.NoError(t, err)
	require.JSONEq(t, `"JP"`, string(data))

	var c Country
	require.NoError(t, json.Unmarshal([]byte(`"us"`), &c))
	require.Equal(t, CountryUnitedStates, c)

	require.NoError(t, json.Unmarshal([]byte(`111`), &c))
	require.Equal(t, CountryJapan, c)

	require.Error(t, json.Unmarshal([]byte(`"nowhere"`), &c))
}
