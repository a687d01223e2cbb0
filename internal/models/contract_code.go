package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// MonthCodes maps futures month letters to calendar months
var MonthCodes = map[byte]time.Month{
	'F': time.January,
	'G': time.February,
	'H': time.March,
	'J': time.April,
	'K': time.May,
	'M': time.June,
	'N': time.July,
	'Q': time.August,
	'U': time.September,
	'V': time.October,
	'X': time.November,
	'Z': time.December,
}

// MonthLetter returns the futures letter for a calendar month
func MonthLetter(m time.Month) string {
	for letter, month := range MonthCodes {
		if month == m {
			return string(letter)
		}
	}
	return ""
}

// ContractCode is a parsed contract code like NQZ24
type ContractCode struct {
	Symbol    string
	MonthCode string
	Year      int
}

// String formats the code with a two digit year
func (c ContractCode) String() string {
	return fmt.Sprintf("%s%s%02d", c.Symbol, c.MonthCode, c.Year%100)
}

// Month returns the calendar month of the contract
func (c ContractCode) Month() time.Month {
	if c.MonthCode == "" {
		return 0
	}
	return MonthCodes[c.MonthCode[0]]
}

// ParseContractCode splits codes like "NQZ24" or "ESH2025" into symbol,
// month letter and four digit year.
func ParseContractCode(code string) (ContractCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	i := len(code)
	for i > 0 && unicode.IsDigit(rune(code[i-1])) {
		i--
	}
	digits := code[i:]
	if len(digits) != 2 && len(digits) != 4 {
		return ContractCode{}, fmt.Errorf("invalid contract code %q: expected 2 or 4 year digits", code)
	}
	if i < 2 {
		return ContractCode{}, fmt.Errorf("invalid contract code %q: missing symbol or month", code)
	}

	month := code[i-1]
	if _, ok := MonthCodes[month]; !ok {
		return ContractCode{}, fmt.Errorf("invalid contract code %q: unknown month letter %q", code, month)
	}

	year, err := strconv.Atoi(digits)
	if err != nil {
		return ContractCode{}, fmt.Errorf("invalid contract code %q: %w", code, err)
	}
	if len(digits) == 2 {
		year += 2000
	}

	return ContractCode{
		Symbol:    code[:i-1],
		MonthCode: string(month),
		Year:      year,
	}, nil
}

// ThirdFriday returns the third Friday of the given month, the standard
// expiry of quarterly equity index futures.
func ThirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// NextContracts lists the next n contract codes for a symbol whose listed
// months are given as letters, e.g. "HMUZ", starting from asOf's month.
func NextContracts(symbol, months string, asOf time.Time, n int) []ContractCode {
	if n <= 0 || strings.IndexFunc(months, func(r rune) bool { return r < 256 && MonthCodes[byte(r)] != 0 }) < 0 {
		return nil
	}

	out := make([]ContractCode, 0, n)
	year := asOf.Year()
	for len(out) < n {
		for i := 0; i < len(months) && len(out) < n; i++ {
			m, ok := MonthCodes[months[i]]
			if !ok {
				continue
			}
			if year == asOf.Year() && m < asOf.Month() {
				continue
			}
			// skip contracts that already expired this month
			if year == asOf.Year() && m == asOf.Month() && !asOf.Before(ThirdFriday(year, m).AddDate(0, 0, 1)) {
				continue
			}
			out = append(out, ContractCode{Symbol: symbol, MonthCode: string(months[i]), Year: year})
		}
		year++
	}
	return out
}
