package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Country is the game's numeric country code as carried in UserPresence.
type Country uint8

// A few codes referenced directly.
const (
	CountryUnknown      Country = 0
	CountryJapan        Country = 111
	CountryUnitedStates Country = 225
)

var countryNames = [...]string{
	0: "XX", 1: "OC", 2: "EU", 3: "AD", 4: "AE", 5: "AF", 6: "AG", 7: "AI", 8: "AL", 9: "AM",
	10: "AN", 11: "AO", 12: "AQ", 13: "AR", 14: "AS", 15: "AT", 16: "AU", 17: "AW", 18: "AZ", 19: "BA",
	20: "BB", 21: "BD", 22: "BE", 23: "BF", 24: "BG", 25: "BH", 26: "BI", 27: "BJ", 28: "BM", 29: "BN",
	30: "BO", 31: "BR", 32: "BS", 33: "BT", 34: "BV", 35: "BW", 36: "BY", 37: "BZ", 38: "CA", 39: "CC",
	40: "CD", 41: "CF", 42: "CG", 43: "CH", 44: "CI", 45: "CK", 46: "CL", 47: "CM", 48: "CN", 49: "CO",
	50: "CR", 51: "CU", 52: "CV", 53: "CX", 54: "CY", 55: "CZ", 56: "DE", 57: "DJ", 58: "DK", 59: "DM",
	60: "DO", 61: "DZ", 62: "EC", 63: "EE", 64: "EG", 65: "EH", 66: "ER", 67: "ES", 68: "ET", 69: "FI",
	70: "FJ", 71: "FK", 72: "FM", 73: "FO", 74: "FR", 75: "FX", 76: "GA", 77: "GB", 78: "GD", 79: "GE",
	80: "GF", 81: "GH", 82: "GI", 83: "GL", 84: "GM", 85: "GN", 86: "GP", 87: "GQ", 88: "GR", 89: "GS",
	90: "GT", 91: "GU", 92: "GW", 93: "GY", 94: "HK", 95: "HM", 96: "HN", 97: "HR", 98: "HT", 99: "HU",
	100: "ID", 101: "IE", 102: "IL", 103: "IN", 104: "IO", 105: "IQ", 106: "IR", 107: "IS", 108: "IT", 109: "JM",
	110: "JO", 111: "JP", 112: "KE", 113: "KG", 114: "KH", 115: "KI", 116: "KM", 117: "KN", 118: "KP", 119: "KR",
	120: "KW", 121: "KY", 122: "KZ", 123: "LA", 124: "LB", 125: "LC", 126: "LI", 127: "LK", 128: "LR", 129: "LS",
	130: "LT", 131: "LU", 132: "LV", 133: "LY", 134: "MA", 135: "MC", 136: "MD", 137: "MG", 138: "MH", 139: "MK",
	140: "ML", 141: "MM", 142: "MN", 143: "MO", 144: "MP", 145: "MQ", 146: "MR", 147: "MS", 148: "MT", 149: "MU",
	150: "MV", 151: "MW", 152: "MX", 153: "MY", 154: "MZ", 155: "NA", 156: "NC", 157: "NE", 158: "NF", 159: "NG",
	160: "NI", 161: "NL", 162: "NO", 163: "NP", 164: "NR", 165: "NU", 166: "NZ", 167: "OM", 168: "PA", 169: "PE",
	170: "PF", 171: "PG", 172: "PH", 173: "PK", 174: "PL", 175: "PM", 176: "PN", 177: "PR", 178: "PS", 179: "PT",
	180: "PW", 181: "PY", 182: "QA", 183: "RE", 184: "RO", 185: "RU", 186: "RW", 187: "SA", 188: "SB", 189: "SC",
	190: "SD", 191: "SE", 192: "SG", 193: "SH", 194: "SI", 195: "SJ", 196: "SK", 197: "SL", 198: "SM", 199: "SN",
	200: "SO", 201: "SR", 202: "ST", 203: "SV", 204: "SY", 205: "SZ", 206: "TC", 207: "TD", 208: "TF", 209: "TG",
	210: "TH", 211: "TJ", 212: "TK", 213: "TM", 214: "TN", 215: "TO", 216: "TL", 217: "TR", 218: "TT", 219: "TV",
	220: "TW", 221: "TZ", 222: "UA", 223: "UG", 224: "UM", 225: "US", 226: "UY", 227: "UZ", 228: "VA", 229: "VC",
	230: "VE", 231: "VG", 232: "VI", 233: "VN", 234: "VU", 235: "WF", 236: "WS", 237: "YE", 238: "YT", 239: "RS",
	240: "ZA", 241: "ZM", 242: "ME", 243: "ZW", 244: "XX", 245: "A2", 246: "O1", 247: "AX", 248: "GG", 249: "IM",
	250: "JE", 251: "BL", 252: "MF",
}

var countryByName = func() map[string]Country {
	m := make(map[string]Country, len(countryNames))
	for code, name := range countryNames {
		if _, dup := m[name]; !dup {
			m[name] = Country(code)
		}
	}
	return m
}()

// String returns the two-letter name of c, or "XX" when unmapped.
func (c Country) String() string {
	if int(c) < len(countryNames) && countryNames[c] != "" {
		return countryNames[c]
	}
	return "XX"
}

// Valid reports whether c is a real country code, not the unknown marker.
func (c Country) Valid() bool {
	return int(c) < len(countryNames) && c != CountryUnknown && countryNames[c] != "XX"
}

// ParseCountry accepts a two-letter name in any case.
func ParseCountry(name string) (Country, error) {
	c, ok := countryByName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok || !c.Valid() {
		return CountryUnknown, fmt.Errorf("unknown country %q", name)
	}
	return c, nil
}

// Countries returns every valid country ordered by name.
func Countries() []Country {
	out := make([]Country, 0, len(countryNames))
	for code := range countryNames {
		if c := Country(code); c.Valid() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// MarshalJSON serializes Country as its two-letter name (e.g. "JP").
func (c Country) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts either a two-letter name or a numeric code.
func (c *Country) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseCountry(name)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}

	var code uint8
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("country must be a name or numeric code: %w", err)
	}
	*c = Country(code)
	return nil
}
