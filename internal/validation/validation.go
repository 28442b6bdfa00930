package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kjstillabower/weather-locator/internal/models"
)

// ErrCoordinateNotNumber is returned when latitude or longitude does not parse as a finite number.
// The coordinate form treats this as "nothing submitted" rather than a client error.
var ErrCoordinateNotNumber = errors.New("coordinate is not a number")

// ErrCoordinateOutOfRange is returned when latitude is outside [-90,90] or longitude outside [-180,180].
var ErrCoordinateOutOfRange = errors.New("coordinate out of range")

// ErrQueryEmpty is returned when a place-name query is empty or whitespace-only after trim.
var ErrQueryEmpty = errors.New("query is empty")

// ErrQueryTooLong is returned when a query exceeds the maximum length.
var ErrQueryTooLong = errors.New("query too long")

// ErrQueryInvalidChars is returned when a query contains disallowed characters.
var ErrQueryInvalidChars = errors.New("query contains invalid characters")

// ParseCoordinate parses decimal latitude and longitude strings and range-checks the result.
func ParseCoordinate(lat, lon string) (models.Coordinate, error) {
	la, err := parseFinite(lat)
	if err != nil {
		return models.Coordinate{}, err
	}
	lo, err := parseFinite(lon)
	if err != nil {
		return models.Coordinate{}, err
	}
	return ValidateCoordinate(models.Coordinate{Lat: la, Lon: lo})
}

// ValidateCoordinate range-checks c. NaN and infinities are rejected as not numbers.
func ValidateCoordinate(c models.Coordinate) (models.Coordinate, error) {
	if !isFinite(c.Lat) || !isFinite(c.Lon) {
		return models.Coordinate{}, ErrCoordinateNotNumber
	}
	if !c.Valid() {
		return models.Coordinate{}, ErrCoordinateOutOfRange
	}
	return c, nil
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !isFinite(f) {
		return 0, ErrCoordinateNotNumber
	}
	return f, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ValidateQuery trims a place-name query, enforces maxLen (in runes, 0 = unlimited)
// and restricts it to letters, digits, space and the punctuation found in place names.
func ValidateQuery(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrQueryEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
